// internal/value/value.go
//
// String → typed configuration value.
//
// Context
// -------
// Environment variables and CLI arguments arrive as strings.  Parse turns
// them into the value a YAML author would have written, using the first
// rule that matches:
//
//  1. true / false (any case)            → Bool
//  2. null / none (any case) or ""       → Null
//  3. base-10 integer, optional sign     → Int
//  4. decimal or exponent float          → Float
//  5. leading “[” or “{”                 → List or Map (JSON, then YAML flow)
//  6. anything else                      → String, unmodified
//
// Rule 5 is the only one that can fail.  On failure Parse still returns a
// String value holding the raw text, together with a *ParseError, so the
// caller picks between fail-fast and fall-back.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nya-foundation/nekoconf/internal/tree"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	String Kind = iota
	Null
	Bool
	Int
	Float
	List
	Map
)

var kindNames = [...]string{"string", "null", "bool", "int", "float", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a parsed scalar or structure.  Only the field matching Kind is
// meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int
	Float float64
	Str   string
	List  []any
	Map   map[string]any
}

// Any returns the configuration-tree representation of v.
func (v Value) Any() any {
	switch v.Kind {
	case Null:
		return nil
	case Bool:
		return v.Bool
	case Int:
		return v.Int
	case Float:
		return v.Float
	case List:
		return v.List
	case Map:
		return v.Map
	default:
		return v.Str
	}
}

// ParseError reports a structural value that neither JSON nor YAML could
// decode.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse converts raw into a Value.  See the package comment for the rules.
func Parse(raw string) (Value, error) {
	lower := strings.ToLower(raw)

	switch lower {
	case "true":
		return Value{Kind: Bool, Bool: true}, nil
	case "false":
		return Value{Kind: Bool, Bool: false}, nil
	case "", "null", "none":
		return Value{Kind: Null}, nil
	}

	if i, err := strconv.Atoi(raw); err == nil {
		return Value{Kind: Int, Int: i}, nil
	}

	if looksFloat(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return Value{Kind: Float, Float: f}, nil
		}
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return parseStructure(raw, trimmed)
	}

	return Value{Kind: String, Str: raw}, nil
}

// looksFloat accepts digits, sign, decimal point, and exponent markers, and
// requires a point or an exponent.  It keeps NaN, Inf, and hex floats out.
func looksFloat(s string) bool {
	if !strings.ContainsAny(s, ".eE") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == 'e', r == 'E', r == '+', r == '-':
		default:
			return false
		}
	}
	return true
}

func parseStructure(raw, trimmed string) (Value, error) {
	decoded, jerr := decodeJSON(trimmed)
	if jerr != nil {
		var y any
		if yerr := yaml.Unmarshal([]byte(trimmed), &y); yerr != nil {
			return Value{Kind: String, Str: raw}, &ParseError{Raw: raw, Err: errors.Join(jerr, yerr)}
		}
		decoded = y
	}

	switch x := tree.Normalize(decoded).(type) {
	case []any:
		return Value{Kind: List, List: x}, nil
	case map[string]any:
		return Value{Kind: Map, Map: x}, nil
	default:
		return Value{Kind: String, Str: raw}, &ParseError{
			Raw: raw,
			Err: fmt.Errorf("expected list or mapping, got %T", x),
		}
	}
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return out, nil
}
