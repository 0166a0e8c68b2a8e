// Command genschema writes the JSON Schema of config.toml.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/bolasblack/tfvc/internal/config"
)

func main() {
	r := jsonschema.Reflector{
		FieldNameTag:               "toml",
		RequiredFromJSONSchemaTags: true,
	}

	schema := r.Reflect(&config.Document{})
	schema.Title = "tfvc configuration"
	schema.Description = "Configuration schema for " + config.Filename
	schema.ID = ""

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out := "tfvc-config.schema.json"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	if out == "-" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
}
