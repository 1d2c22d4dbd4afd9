package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"linuxenv/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	res, err := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if res.Exec != nil {
		if err := res.Exec.Exec(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start shell: %v\n", err)
			os.Exit(1)
		}
		// Exec never returns on success
	}
	os.Exit(res.ExitCode)
}
