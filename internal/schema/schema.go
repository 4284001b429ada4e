// internal/schema/schema.go
//
// JSON-Schema validation of configuration trees.
//
// Context
// -------
// A schema document may be written in JSON or YAML.  YAML documents are
// decoded, normalised and re-encoded as JSON before compilation so the
// validator only ever sees one syntax.
//
// Validate reports every leaf failure as "<dotted.path>: <message>".  The
// dotted path is derived from the JSON pointer of the failing instance;
// failures on the document itself use "(root)".
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nya-foundation/nekoconf/internal/tree"
)

const resourceName = "nekoconf-schema.json"

// Validator wraps one compiled schema.  It is safe for concurrent use.
type Validator struct {
	sch  *jsonschema.Schema
	path string
}

// Load reads and compiles the schema at path.  Files ending in .json are
// parsed as JSON; everything else as YAML.
func Load(path string) (*Validator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}

	var doc any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}

	m, ok := tree.Normalize(doc).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: top level must be a mapping", path)
	}
	v, err := New(m)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	v.path = path
	return v, nil
}

// New compiles an in-memory schema document.
func New(doc map[string]any) (*Validator, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(resourceName, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{sch: sch}, nil
}

// Path returns the file the schema was loaded from, if any.
func (v *Validator) Path() string { return v.path }

// Validate checks data and returns one message per failure, sorted.  An
// empty result means data is valid.
func (v *Validator) Validate(data map[string]any) []string {
	inst, err := toJSON(data)
	if err != nil {
		return []string{"(root): " + err.Error()}
	}

	err = v.sch.Validate(inst)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{"(root): " + err.Error()}
	}

	var out []string
	collect(ve, &out)
	sort.Strings(out)
	return out
}

// toJSON converts a tree to the value shapes the validator expects by a
// round trip through encoding/json.
func toJSON(data map[string]any) (any, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func collect(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		*out = append(*out, dotted(ve.InstanceLocation)+": "+ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collect(c, out)
	}
}

// dotted turns a JSON pointer such as /server/port into server.port.
func dotted(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "(root)"
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, tree.Sep)
}
