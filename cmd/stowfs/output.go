package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sagarc03/stowfs/objectstore"
)

// writeOutput encodes v as yaml or json.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

// secretArgs hides argument values whose names look like credentials.
var secretArgs = []string{"secret", "key", "password", "token"}

func redact(c objectstore.Config) objectstore.Config {
	args := maps.Clone(c.Arguments)
	for k := range args {
		for _, s := range secretArgs {
			if strings.Contains(strings.ToLower(k), s) {
				args[k] = "<redacted>"
				break
			}
		}
	}
	c.Arguments = args
	return c
}
