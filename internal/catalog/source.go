// Package catalog loads control catalog definitions and bulk-imports them
// into the store as an idempotent, batched, transactional reseed.
package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// CCIEntry is one CCI definition attached to a catalog entry.
type CCIEntry struct {
	CCI        string `json:"cci" yaml:"cci"`
	Definition string `json:"definition" yaml:"definition"`
}

// Entry is one control definition in a catalog source.
type Entry struct {
	Name            string     `json:"name" yaml:"name"`
	ControlText     string     `json:"control_text" yaml:"control_text"`
	Discussion      string     `json:"discussion,omitempty" yaml:"discussion,omitempty"`
	RelatedControls []string   `json:"related_controls,omitempty" yaml:"related_controls,omitempty"`
	CCIs            []CCIEntry `json:"ccis,omitempty" yaml:"ccis,omitempty"`
}

// Source maps raw (possibly unnormalized) control identifiers to entries.
type Source map[string]Entry

// catalogSchema validates decoded catalog sources before any mutation. It is
// embedded so validation cannot drift from the decoder's expectations.
const catalogSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "object",
    "required": ["name", "control_text"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "control_text": {"type": "string"},
      "discussion": {"type": "string"},
      "related_controls": {
        "type": "array",
        "items": {"type": "string", "minLength": 1}
      },
      "ccis": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["cci"],
          "properties": {
            "cci": {"type": "string", "minLength": 1},
            "definition": {"type": "string"}
          },
          "additionalProperties": false
        }
      }
    },
    "additionalProperties": false
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("catalog.json", strings.NewReader(catalogSchema)); err != nil {
		panic(fmt.Sprintf("catalog schema resource: %v", err))
	}
	schema, err := compiler.Compile("catalog.json")
	if err != nil {
		panic(fmt.Sprintf("catalog schema compile: %v", err))
	}
	return schema
}

// LoadSource reads a catalog file from disk. A missing file is the fatal
// catalog-not-found case and aborts before any deletion happens downstream.
func LoadSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog source not found: %w", err)
	}
	defer f.Close()
	return DecodeSource(f)
}

// DecodeSource decodes a catalog blob. Gzip compression is detected by the
// magic bytes; the payload may be JSON or YAML. The decoded document is
// validated against the embedded schema before it is returned.
func DecodeSource(r io.Reader) (Source, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip catalog: %w", err)
		}
		defer gz.Close()
		return decodePlain(gz)
	}
	return decodePlain(br)
}

func decodePlain(r io.Reader) (Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog source: %w", err)
	}

	jsonData := data
	if !looksLikeJSON(data) {
		var generic map[string]any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to decode catalog yaml: %w", err)
		}
		jsonData, err = json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode catalog yaml: %w", err)
		}
	}

	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog failed schema validation: %w", err)
	}

	var src Source
	if err := json.Unmarshal(jsonData, &src); err != nil {
		return nil, fmt.Errorf("failed to decode catalog entries: %w", err)
	}
	return src, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
