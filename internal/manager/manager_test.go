package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/metrics"
	"github.com/nya-foundation/nekoconf/internal/observer"
	"github.com/nya-foundation/nekoconf/internal/override"
	"github.com/nya-foundation/nekoconf/internal/secrets"
	"github.com/nya-foundation/nekoconf/internal/store"
)

const sampleYAML = `
server:
  host: localhost
  port: 8000
  debug: true
  timeout: 30.5
  features: [api, admin, docs]
  settings:
    cache: true
    max_connections: 100
database:
  url: sqlite:///test.db
`

const sampleSchema = `
type: object
properties:
  server:
    type: object
    properties:
      host: {type: string}
      port: {type: integer}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newManager(t *testing.T, env override.Map, opts ...Option) (*Manager, string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	if env == nil {
		env = override.Map{}
	}
	all := append([]Option{WithLogger(zap.NewNop().Sugar()), WithEnv(env)}, opts...)
	m, err := New(path, all...)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))
	return m, path
}

type recorder struct {
	mu    sync.Mutex
	snaps []map[string]any
}

func (r *recorder) Notify(_ context.Context, s map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

/*──────────────────────────── reads ───────────────────────────────────────*/

func TestGet(t *testing.T) {
	m, _ := newManager(t, nil)

	assert.Equal(t, "localhost", m.Get("server.host", nil))
	assert.Equal(t, 8000, m.Get("server.port", nil))
	assert.Equal(t, true, m.Get("server.debug", nil))
	assert.Equal(t, "default", m.Get("server.nonexistent", "default"))
	assert.Equal(t, 42, m.Get("nonexistent.key", 42))

	section, ok := m.Get("server", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "localhost", section["host"])

	assert.True(t, m.Has("database.url"))
	assert.False(t, m.Has("database.user"))
}

func TestTypedGetters(t *testing.T) {
	m, _ := newManager(t, nil)

	assert.Equal(t, 8000, m.GetInt("server.port", 0))
	assert.Equal(t, 9000, m.GetInt("server.nonexistent", 9000))
	assert.Equal(t, -1, m.GetInt("server.host", -1))

	assert.Equal(t, "localhost", m.GetString("server.host", ""))
	assert.Equal(t, "default", m.GetString("server.nonexistent", "default"))

	assert.True(t, m.GetBool("server.debug", false))
	assert.False(t, m.GetBool("server.host", false))

	assert.Equal(t, 30.5, m.GetFloat("server.timeout", 0))
	assert.Equal(t, 8000.0, m.GetFloat("server.port", 0))
	assert.Equal(t, []any{"api", "admin", "docs"}, m.GetList("server.features", nil))
	assert.Equal(t, map[string]any{"cache": true, "max_connections": 100}, m.GetMap("server.settings", nil))
	assert.Nil(t, m.GetMap("server.host", nil))
}

func TestReadsAreCopies(t *testing.T) {
	m, _ := newManager(t, nil)

	all := m.All()
	all["server"].(map[string]any)["host"] = "mutated"
	m.GetMap("server", nil)["port"] = 1

	assert.Equal(t, "localhost", m.GetString("server.host", ""))
	assert.Equal(t, 8000, m.GetInt("server.port", 0))
}

/*──────────────────────────── mutations ───────────────────────────────────*/

func TestModificationOperations(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "server.host", "127.0.0.1"))
	assert.Equal(t, "127.0.0.1", m.Get("server.host", nil))

	require.NoError(t, m.Set(ctx, "server.ssl.enabled", true))
	assert.Equal(t, true, m.Get("server.ssl.enabled", nil))

	ok, err := m.Delete(ctx, "server.debug")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, m.Get("server.debug", nil))

	ok, err = m.Delete(ctx, "server.debug")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Update(ctx, map[string]any{
		"server":  map[string]any{"port": 9000},
		"new_key": "value",
	}))
	assert.Equal(t, 9000, m.Get("server.port", nil))
	assert.Equal(t, "value", m.Get("new_key", nil))
	assert.Equal(t, "127.0.0.1", m.Get("server.host", nil))

	require.NoError(t, m.Replace(ctx, map[string]any{"only": 1}))
	assert.Equal(t, map[string]any{"only": 1}, m.All())

	assert.Error(t, m.Set(ctx, "", 1))
}

func TestSetNormalisesValues(t *testing.T) {
	m, _ := newManager(t, nil)
	require.NoError(t, m.Set(context.Background(), "limits", map[string]any{"max": int64(5), "ratio": float32(0.5)}))
	assert.Equal(t, 5, m.GetInt("limits.max", 0))
	assert.Equal(t, 0.5, m.GetFloat("limits.ratio", 0))
}

/*──────────────────────────── overrides ───────────────────────────────────*/

func TestEnvironmentOverridesEffectiveOnly(t *testing.T) {
	env := override.Map{
		"NEKOCONF_SERVER_PORT": "9999",
		"NEKOCONF_NEW_FLAG":    "true",
	}
	m, path := newManager(t, env)

	assert.Equal(t, 9999, m.GetInt("server.port", 0))
	assert.True(t, m.GetBool("new.flag", false))
	assert.Equal(t, 8000, m.Raw()["server"].(map[string]any)["port"])

	// Mutations keep the override on top.
	require.NoError(t, m.Set(context.Background(), "server.port", 1234))
	assert.Equal(t, 9999, m.GetInt("server.port", 0))

	require.NoError(t, m.Save())
	saved, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, saved["server"].(map[string]any)["port"])
	assert.NotContains(t, saved, "new")
}

func TestDisabledOverrides(t *testing.T) {
	opts := override.DefaultOptions()
	opts.Enabled = false
	m, _ := newManager(t, override.Map{"NEKOCONF_SERVER_PORT": "9999"}, WithOverrides(opts))

	assert.Equal(t, 8000, m.GetInt("server.port", 0))
	assert.False(t, m.Overrides().Enabled)
}

func TestStrictFailureAbortsMutation(t *testing.T) {
	opts := override.DefaultOptions()
	opts.StrictParsing = true
	env := override.Map{"NEKOCONF_EXTRA_LIST": "[1, 2"}

	path := writeFile(t, t.TempDir(), "config.yaml", "a: 1\n")
	m, err := New(path, WithEnv(env), WithOverrides(opts), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)

	err = m.Load(context.Background())
	var oe *override.OverrideError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "NEKOCONF_EXTRA_LIST", oe.Var)

	err = m.Set(context.Background(), "b", 2)
	require.Error(t, err)
	assert.False(t, m.Has("b"))
}

/*──────────────────────────── observers ───────────────────────────────────*/

func TestObserverManagement(t *testing.T) {
	m, _ := newManager(t, nil)
	rec := &recorder{}

	id := m.Observe(rec)
	assert.Equal(t, 1, m.ObserverCount())

	require.NoError(t, m.Set(context.Background(), "test.key", "value"))
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "value", rec.last()["test"].(map[string]any)["key"])

	assert.True(t, m.StopObserving(id))
	assert.False(t, m.StopObserving(id))
	assert.Zero(t, m.ObserverCount())

	require.NoError(t, m.Set(context.Background(), "test.key", "other"))
	assert.Equal(t, 1, rec.count())
}

func TestObserverSnapshotIsPrivate(t *testing.T) {
	m, _ := newManager(t, nil)
	m.Observe(observer.Func(func(s map[string]any) error {
		s["server"].(map[string]any)["host"] = "hijacked"
		return nil
	}))

	require.NoError(t, m.Set(context.Background(), "x", 1))
	assert.Equal(t, "localhost", m.GetString("server.host", ""))
}

func TestObserverFailureKeepsCommit(t *testing.T) {
	m, _ := newManager(t, nil)
	boom := errors.New("observer broke")
	rec := &recorder{}

	m.Observe(observer.Func(func(map[string]any) error { return boom }))
	m.Observe(rec)

	err := m.Set(context.Background(), "server.host", "changed")
	var de *observer.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, de.Index)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, "changed", m.GetString("server.host", ""))
	assert.Zero(t, rec.count())
}

func TestAsyncObserverIsAwaited(t *testing.T) {
	m, _ := newManager(t, nil)

	var seen map[string]any
	m.Observe(observer.Go(func(_ context.Context, s map[string]any) error {
		time.Sleep(10 * time.Millisecond)
		seen = s
		return nil
	}))

	require.NoError(t, m.Set(context.Background(), "async", "yes"))
	require.NotNil(t, seen)
	assert.Equal(t, "yes", seen["async"])
}

/*──────────────────────────── load / reload / save ────────────────────────*/

func TestMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	m, err := New(path, WithEnv(override.Map{}), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.All())

	require.NoError(t, m.Set(context.Background(), "created", true))
	require.NoError(t, m.Save())

	saved, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"created": true}, saved)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	m, _ := newManager(t, nil)
	rec := &recorder{}
	m.Observe(rec)

	require.NoError(t, m.Set(context.Background(), "server.host", "changed.value"))
	reloaded, err := m.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "localhost", reloaded["server"].(map[string]any)["host"])
	assert.Equal(t, "localhost", m.GetString("server.host", ""))
	assert.Equal(t, 2, rec.count())

	// Nothing changed on disk: no notification.
	_, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count())
}

func TestReloadAfterSaveIsQuiet(t *testing.T) {
	m, _ := newManager(t, nil)
	rec := &recorder{}

	require.NoError(t, m.Set(context.Background(), "server.port", 7000))
	require.NoError(t, m.Save())
	m.Observe(rec)

	_, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rec.count())
	assert.Equal(t, 7000, m.GetInt("server.port", 0))
}

func TestReloadReportsBrokenFile(t *testing.T) {
	m, path := newManager(t, nil)
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed\n"), 0o644))

	_, err := m.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "localhost", m.GetString("server.host", ""))
}

/*──────────────────────────── validation ──────────────────────────────────*/

func TestValidation(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.yaml", sampleSchema)
	m, _ := newManager(t, nil, WithSchema(schemaPath))

	assert.True(t, m.HasSchema())
	assert.Equal(t, schemaPath, m.SchemaPath())
	assert.Empty(t, m.Validate())

	require.NoError(t, m.Set(context.Background(), "server.port", "not-an-integer"))
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "port")

	errs, err := m.ValidateData(map[string]any{"server": map[string]any{"host": 1}})
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}

func TestValidateDataLeavesGauge(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.yaml", sampleSchema)
	m, _ := newManager(t, nil, WithSchema(schemaPath))

	require.Empty(t, m.Validate())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ValidationErrors))

	errs, err := m.ValidateData(map[string]any{"server": map[string]any{"host": 1, "port": "x"}})
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ValidationErrors))

	require.NoError(t, m.Set(context.Background(), "server.port", "not-an-integer"))
	errs = m.Validate()
	assert.Equal(t, float64(len(errs)), testutil.ToFloat64(metrics.ValidationErrors))
}

func TestValidationWithoutSchema(t *testing.T) {
	m, _ := newManager(t, nil)
	assert.Nil(t, m.Validate())
	assert.False(t, m.HasSchema())

	_, err := m.ValidateData(map[string]any{})
	assert.ErrorIs(t, err, ErrNoSchema)
}

func TestBadSchemaFailsNew(t *testing.T) {
	_, err := New("config.yaml", WithSchema(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

/*──────────────────────────── secrets ─────────────────────────────────────*/

type staticResolver map[string]string

func (s staticResolver) Resolve(_ context.Context, ref secrets.Ref) (string, error) {
	v, ok := s[ref.String()]
	if !ok {
		return "", errors.New("unknown secret")
	}
	return v, nil
}

func TestSecretsResolveIntoEffectiveOnly(t *testing.T) {
	r := staticResolver{"vault:secret/app/db#password": "s3cret"}
	m, path := newManager(t, nil, WithResolver(r))

	require.NoError(t, m.Set(context.Background(), "database.password", "vault:secret/app/db#password"))
	assert.Equal(t, "s3cret", m.GetString("database.password", ""))
	assert.Equal(t, "vault:secret/app/db#password", m.Raw()["database"].(map[string]any)["password"])

	require.NoError(t, m.Save())
	saved, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "vault:secret/app/db#password", saved["database"].(map[string]any)["password"])

	err = m.Set(context.Background(), "database.other", "vault:secret/app/none#x")
	assert.Error(t, err)
	assert.False(t, m.Has("database.other"))
}

/*──────────────────────────── watch ───────────────────────────────────────*/

func TestWatchReloadsOnChange(t *testing.T) {
	m, path := newManager(t, nil)
	rec := &recorder{}
	m.Observe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 30*time.Millisecond) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: watched\n"), 0o644))

	require.Eventually(t, func() bool {
		return m.GetString("server.host", "") == "watched"
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, rec.count(), 1)

	cancel()
	require.NoError(t, <-done)
}
