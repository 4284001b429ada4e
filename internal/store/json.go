package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nya-foundation/nekoconf/internal/tree"
)

// JSONParser is a koanf.Parser that keeps integers as integers.  Numbers are
// decoded with UseNumber and normalised, so 8080 stays an int instead of
// becoming float64.
type JSONParser struct{}

// JSON returns a JSON parser.
func JSON() *JSONParser { return &JSONParser{} }

// Unmarshal decodes one JSON object.  Blank input yields an empty map.
func (p *JSONParser) Unmarshal(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level object")
	}
	if out == nil {
		out = map[string]any{}
	}
	return tree.NormalizeMap(out), nil
}

// Marshal encodes with two-space indentation and a trailing newline.
func (p *JSONParser) Marshal(m map[string]any) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
