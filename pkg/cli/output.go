package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"linuxenv/pkg/catalog"
)

// writeJSON prints v as indented JSON. With a jq filter, v is run through
// it and each result is printed on its own.
func writeJSON(w io.Writer, v any, filter string) error {
	if filter == "" {
		return encode(w, v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// gojq only understands the generic JSON shapes.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	results, err := catalog.RunJQ(filter, generic)
	if err != nil {
		return fmt.Errorf("--jq: %w", err)
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := encode(w, r); err != nil {
			return err
		}
	}
	return nil
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
