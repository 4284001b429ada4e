// internal/manager/manager.go
//
// Configuration manager.
//
/*
Context
--------
A Manager owns two trees:

  • raw        what the file holds plus in-process mutations.  Save writes
               this tree and nothing else.
  • effective  raw with environment overrides and resolved secrets on top.
               Every read and every observer sees this tree.

Mutations copy raw, change the copy, recompute effective, and only then
commit both.  A strict override failure or a secret lookup failure aborts
the mutation before anything is committed.  After the commit, observers
receive one private deep copy of the new effective tree.

Workflow
--------
  1. m, err := manager.New(path, manager.WithSchema(s))
  2. err = m.Load(ctx)
  3. m.GetInt("server.port", 8080), m.Set(ctx, "server.host", "::"), …

Locking
-------
  • mu       RWMutex over raw/effective.  Readers never wait for observers.
  • writeMu  serialises writers and their notification round, so observers
             see snapshots in commit order.  Observers must not call
             mutation methods synchronously; they would wait on writeMu.
  • obsMu    guards the observer list.

Instrumentation
---------------
  • INFO  on load, reload and save.
  • WARN  on a missing file and on schema errors after load.
  • Prometheus counters for mutations, reloads and observer failures.
*/
package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nya-foundation/nekoconf/internal/metrics"
	"github.com/nya-foundation/nekoconf/internal/observer"
	"github.com/nya-foundation/nekoconf/internal/override"
	"github.com/nya-foundation/nekoconf/internal/schema"
	"github.com/nya-foundation/nekoconf/internal/secrets"
	"github.com/nya-foundation/nekoconf/internal/store"
	"github.com/nya-foundation/nekoconf/internal/tree"
)

// ErrNoSchema is returned by operations that need a schema when none was
// configured.
var ErrNoSchema = errors.New("no schema configured")

// ObserverID identifies a registration for StopObserving.
type ObserverID uint64

type registration struct {
	id ObserverID
	o  observer.Observer
}

// Manager is safe for concurrent use.
type Manager struct {
	store      *store.Store
	schemaPath string
	validator  *schema.Validator
	overrides  *override.Handler
	ovOpts     override.Options
	env        override.Source
	resolver   secrets.Resolver
	log        *zap.SugaredLogger

	mu  sync.RWMutex
	raw map[string]any
	eff map[string]any

	writeMu sync.Mutex

	obsMu     sync.Mutex
	observers []registration
	nextID    ObserverID

	reloads singleflight.Group
}

// Option customises a Manager.
type Option func(*Manager)

// WithSchema validates against the JSON-Schema document at path.
func WithSchema(path string) Option {
	return func(m *Manager) { m.schemaPath = path }
}

// WithOverrides replaces the default override rules.
func WithOverrides(o override.Options) Option {
	return func(m *Manager) { m.ovOpts = o }
}

// WithEnv sets the environment the override engine reads.  The default is
// the process environment.
func WithEnv(src override.Source) Option {
	return func(m *Manager) { m.env = src }
}

// WithResolver enables secret reference resolution.
func WithResolver(r secrets.Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithLogger sets the logger for the manager and its override engine.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// New builds a Manager for the file at path.  The file is not read until
// Load; the schema, when configured, is compiled here.
func New(path string, opts ...Option) (*Manager, error) {
	if path == "" {
		return nil, errors.New("configuration path is empty")
	}

	m := &Manager{
		store:  store.New(path),
		env:    override.OS(),
		log:    zap.S(),
		ovOpts: override.DefaultOptions(),
		raw:    map[string]any{},
		eff:    map[string]any{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.overrides = override.New(m.ovOpts, m.log)

	if m.schemaPath != "" {
		v, err := schema.Load(m.schemaPath)
		if err != nil {
			return nil, err
		}
		m.validator = v
	}
	return m, nil
}

// Path returns the configuration file.
func (m *Manager) Path() string { return m.store.Path() }

// SchemaPath returns the schema file, or "".
func (m *Manager) SchemaPath() string { return m.schemaPath }

// Overrides returns the active override rules.
func (m *Manager) Overrides() override.Options { return m.overrides.Options() }

/*──────────────────────────── load / save ─────────────────────────────────*/

// Load reads the file and rebuilds both trees without notifying observers.
// A missing file yields an empty configuration.
func (m *Manager) Load(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_, _, err := m.loadLocked(ctx)
	return err
}

// Reload reads the file again and notifies observers when the result
// differs from the current state.  Concurrent calls share one read.  The
// returned snapshot belongs to the caller.
func (m *Manager) Reload(ctx context.Context) (map[string]any, error) {
	v, err, _ := m.reloads.Do("reload", func() (any, error) {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()

		changed, snap, err := m.loadLocked(ctx)
		if err != nil {
			metrics.Reloads.WithLabelValues("error").Inc()
			return nil, err
		}
		if !changed {
			metrics.Reloads.WithLabelValues("unchanged").Inc()
			return snap, nil
		}
		metrics.Reloads.WithLabelValues("changed").Inc()
		return snap, m.notify(ctx, tree.CloneMap(snap))
	})

	snap, _ := v.(map[string]any)
	if snap != nil {
		snap = tree.CloneMap(snap)
	}
	return snap, err
}

// loadLocked reads the file and commits.  It reports whether either tree
// changed and returns a snapshot of the new effective tree.
func (m *Manager) loadLocked(ctx context.Context) (bool, map[string]any, error) {
	raw, err := m.store.Load()
	switch {
	case store.IsNotExist(err):
		m.log.Warnw("configuration file not found, starting empty", "file", m.Path())
		raw = map[string]any{}
	case err != nil:
		m.log.Errorw("configuration load failed", "file", m.Path(), "err", err)
		return false, nil, err
	}

	eff, err := m.compute(ctx, raw)
	if err != nil {
		return false, nil, err
	}

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.raw, raw) || !reflect.DeepEqual(m.eff, eff)
	m.raw, m.eff = raw, eff
	snap := tree.CloneMap(eff)
	m.mu.Unlock()

	m.log.Infow("configuration loaded", "file", m.Path(), "keys", len(raw))
	if m.validator != nil {
		if errs := m.validateCurrent(snap); len(errs) > 0 {
			m.log.Warnw("configuration does not match schema",
				"schema", m.schemaPath,
				"errors", errs,
			)
		}
	}
	return changed, snap, nil
}

// Save writes the raw tree to the file.  Environment values and resolved
// secrets are never persisted.
func (m *Manager) Save() error {
	m.mu.RLock()
	raw := tree.CloneMap(m.raw)
	m.mu.RUnlock()

	if err := m.store.Save(raw); err != nil {
		return err
	}
	m.log.Infow("configuration saved", "file", m.Path())
	return nil
}

// compute derives the effective tree from raw without touching raw.
func (m *Manager) compute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	eff, _, err := m.overrides.Apply(tree.CloneMap(raw), m.env, true)
	if err != nil {
		return nil, err
	}
	if m.resolver != nil {
		if _, err := secrets.ResolveTree(ctx, eff, m.resolver); err != nil {
			return nil, err
		}
	}
	return eff, nil
}

/*──────────────────────────── mutations ───────────────────────────────────*/

// Set writes v at key.  Intermediate mappings are created as needed.
func (m *Manager) Set(ctx context.Context, key string, v any) error {
	if key == "" {
		return errors.New("key is empty")
	}
	_, err := m.mutate(ctx, "set", func(raw map[string]any) bool {
		tree.Set(raw, key, tree.Normalize(v))
		return true
	})
	return err
}

// Update deep-merges data into the configuration.
func (m *Manager) Update(ctx context.Context, data map[string]any) error {
	_, err := m.mutate(ctx, "update", func(raw map[string]any) bool {
		tree.Merge(raw, tree.NormalizeMap(data))
		return true
	})
	return err
}

// Delete removes key and reports whether it existed.  Nothing is committed
// or notified when it did not.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	return m.mutate(ctx, "delete", func(raw map[string]any) bool {
		return tree.Delete(raw, key)
	})
}

// Replace swaps the whole configuration for data.
func (m *Manager) Replace(ctx context.Context, data map[string]any) error {
	_, err := m.mutate(ctx, "replace", func(raw map[string]any) bool {
		for k := range raw {
			delete(raw, k)
		}
		for k, v := range tree.NormalizeMap(data) {
			raw[k] = v
		}
		return true
	})
	return err
}

// mutate applies fn to a copy of raw and commits when fn reports a change.
// A failing observer does not undo the commit; its error is returned.
func (m *Manager) mutate(ctx context.Context, op string, fn func(map[string]any) bool) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	next := tree.CloneMap(m.raw)
	m.mu.RUnlock()

	if !fn(next) {
		return false, nil
	}

	eff, err := m.compute(ctx, next)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	m.raw, m.eff = next, eff
	snap := tree.CloneMap(eff)
	m.mu.Unlock()

	metrics.Mutations.WithLabelValues(op).Inc()
	m.log.Debugw("configuration mutated", "op", op)

	return true, m.notify(ctx, snap)
}

/*──────────────────────────── validation ──────────────────────────────────*/

// Validate checks the effective tree against the schema.  It returns nil
// when no schema is configured.
func (m *Manager) Validate() []string {
	if m.validator == nil {
		return nil
	}
	m.mu.RLock()
	snap := tree.CloneMap(m.eff)
	m.mu.RUnlock()
	return m.validateCurrent(snap)
}

// ValidateData checks an arbitrary tree against the schema.  The validation
// gauge keeps describing the served configuration.
func (m *Manager) ValidateData(data map[string]any) ([]string, error) {
	if m.validator == nil {
		return nil, ErrNoSchema
	}
	return m.validator.Validate(data), nil
}

// HasSchema reports whether a schema is configured.
func (m *Manager) HasSchema() bool { return m.validator != nil }

// validateCurrent validates the effective tree and publishes the result.
func (m *Manager) validateCurrent(eff map[string]any) []string {
	errs := m.validator.Validate(eff)
	metrics.ValidationErrors.Set(float64(len(errs)))
	return errs
}

/*──────────────────────────── observers ───────────────────────────────────*/

// Observe registers o and returns its handle.  The same observer may be
// registered more than once; each registration is notified.
func (m *Manager) Observe(o observer.Observer) ObserverID {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextID++
	m.observers = append(m.observers, registration{id: m.nextID, o: o})
	return m.nextID
}

// StopObserving removes a registration and reports whether it existed.
func (m *Manager) StopObserving(id ObserverID) bool {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for i, r := range m.observers {
		if r.id == id {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return true
		}
	}
	return false
}

// ObserverCount returns the number of registrations.
func (m *Manager) ObserverCount() int {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	return len(m.observers)
}

func (m *Manager) notify(ctx context.Context, snap map[string]any) error {
	m.obsMu.Lock()
	list := make([]observer.Observer, len(m.observers))
	for i, r := range m.observers {
		list[i] = r.o
	}
	m.obsMu.Unlock()

	if len(list) == 0 {
		return nil
	}
	if err := observer.Notify(ctx, list, snap); err != nil {
		metrics.ObserverFailures.Inc()
		m.log.Errorw("observer notification failed", "err", err)
		return err
	}
	return nil
}
