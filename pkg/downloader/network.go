package downloader

import (
	"context"
	"net"

	"linuxenv/pkg/common"
)

// NetworkCheck reports whether the host has a usable network.
type NetworkCheck func(ctx context.Context) error

// CheckNetwork looks for an up, non-loopback interface with at least one
// address.
func CheckNetwork(ctx context.Context) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return common.Wrap(common.NoNetwork, "No network connection", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return nil
		}
	}
	return common.Errorf(common.NoNetwork, "No network connection")
}
