package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSchema = `
type: object
required: [server]
properties:
  server:
    type: object
    required: [host, port]
    properties:
      host: {type: string}
      port: {type: integer, minimum: 1, maximum: 65535}
  admin:
    type: string
    format: email
`

const jsonSchema = `{
  "type": "object",
  "properties": {
    "debug": {"type": "boolean"}
  }
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAMLAndValidate(t *testing.T) {
	v, err := Load(writeFile(t, "schema.yaml", yamlSchema))
	require.NoError(t, err)
	assert.NotEmpty(t, v.Path())

	good := map[string]any{
		"server": map[string]any{"host": "localhost", "port": 8080},
		"admin":  "ops@example.com",
	}
	assert.Empty(t, v.Validate(good))
}

func TestValidateReportsDottedPaths(t *testing.T) {
	v, err := Load(writeFile(t, "schema.yaml", yamlSchema))
	require.NoError(t, err)

	bad := map[string]any{
		"server": map[string]any{"host": "localhost", "port": "eighty"},
	}
	errs := v.Validate(bad)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "server.port: ")
}

func TestValidateRootFailure(t *testing.T) {
	v, err := Load(writeFile(t, "schema.yaml", yamlSchema))
	require.NoError(t, err)

	errs := v.Validate(map[string]any{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "(root): ")
	assert.Contains(t, errs[0], "server")
}

func TestValidateAssertsFormats(t *testing.T) {
	v, err := Load(writeFile(t, "schema.yaml", yamlSchema))
	require.NoError(t, err)

	errs := v.Validate(map[string]any{
		"server": map[string]any{"host": "h", "port": 1},
		"admin":  "not-an-email",
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "admin: ")
}

func TestLoadJSON(t *testing.T) {
	v, err := Load(writeFile(t, "schema.json", jsonSchema))
	require.NoError(t, err)

	assert.Empty(t, v.Validate(map[string]any{"debug": true}))
	assert.Len(t, v.Validate(map[string]any{"debug": "yes"}), 1)
	assert.Empty(t, v.Validate(nil))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "list.yaml", "- a\n- b\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.json", "{"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidSchema(t *testing.T) {
	_, err := New(map[string]any{"type": 12})
	assert.Error(t, err)
}

func TestDotted(t *testing.T) {
	assert.Equal(t, "(root)", dotted(""))
	assert.Equal(t, "server.port", dotted("/server/port"))
	assert.Equal(t, "a/b.c~d", dotted("/a~1b/c~0d"))
}
