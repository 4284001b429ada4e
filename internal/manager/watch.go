package manager

import (
	"context"
	"time"

	"github.com/nya-foundation/nekoconf/internal/watch"
)

// Watch reloads the configuration whenever its file changes and settles for
// debounce.  It blocks until ctx ends.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := watch.New(m.Path(), debounce, m.log)
	if err != nil {
		return err
	}
	defer w.Stop()

	return w.Run(ctx, func(ctx context.Context) error {
		_, err := m.Reload(ctx)
		return err
	})
}
