package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const rule = "═══════════════════════════════════════════════════════════"

// printBanner writes a boxed title to stderr
func printBanner(title string) {
	fmt.Fprintf(os.Stderr, "\n%s\n  %s\n%s\n\n", rule, title, rule)
}

// render writes v to w as json or yaml
func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (supported: yaml, json)", format)
	}
}
