package manager

import "github.com/nya-foundation/nekoconf/internal/tree"

// Get returns a deep copy of the value at key, or def when key is missing.
// The empty key returns the whole configuration.
func (m *Manager) Get(key string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := tree.Get(m.eff, key); ok {
		return tree.Clone(v)
	}
	return def
}

// All returns a deep copy of the effective configuration.
func (m *Manager) All() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tree.CloneMap(m.eff)
}

// Raw returns a deep copy of the configuration without environment values
// or resolved secrets, as Save would write it.
func (m *Manager) Raw() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tree.CloneMap(m.raw)
}

// Has reports whether key resolves.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := tree.Get(m.eff, key)
	return ok
}

// GetString returns the string at key, or def when missing or not a string.
func (m *Manager) GetString(key, def string) string {
	if s, ok := m.Get(key, nil).(string); ok {
		return s
	}
	return def
}

// GetInt returns the integer at key, or def when missing or not an integer.
func (m *Manager) GetInt(key string, def int) int {
	if n, ok := m.Get(key, nil).(int); ok {
		return n
	}
	return def
}

// GetFloat returns the number at key as float64.  Integers are widened.
func (m *Manager) GetFloat(key string, def float64) float64 {
	switch n := m.Get(key, nil).(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

// GetBool returns the boolean at key, or def.
func (m *Manager) GetBool(key string, def bool) bool {
	if b, ok := m.Get(key, nil).(bool); ok {
		return b
	}
	return def
}

// GetList returns the list at key, or def.
func (m *Manager) GetList(key string, def []any) []any {
	if l, ok := m.Get(key, nil).([]any); ok {
		return l
	}
	return def
}

// GetMap returns the mapping at key, or def.
func (m *Manager) GetMap(key string, def map[string]any) map[string]any {
	if mm, ok := m.Get(key, nil).(map[string]any); ok {
		return mm
	}
	return def
}
