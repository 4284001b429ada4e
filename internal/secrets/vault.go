// internal/secrets/vault.go
//
// HashiCorp Vault resolver.
//
// Context
// -------
//   - Wraps the Vault Go SDK behind the Resolver interface.
//   - Reads KV-v2 secrets, caches each path#key for CacheTTL, and keeps the
//     token alive with a background lifetime watcher.
//
// Environment
// -----------
//   - VAULT_ADDR   scheme and host of the Vault server.
//   - VAULT_TOKEN  client token.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/cache"
)

const (
	// CacheTTL bounds how long a resolved value is reused.
	CacheTTL = 5 * time.Minute
	// CacheSize bounds how many resolved values are kept.
	CacheSize = 1024
)

// Vault is safe for concurrent use.  Create it once per process.
type Vault struct {
	api   *vault.Client
	log   *zap.SugaredLogger
	cache *cache.LRU[string, string]
}

// NewVault builds a client from the VAULT_* environment and starts token
// renewal, which runs until ctx ends.
func NewVault(ctx context.Context, log *zap.SugaredLogger) (*Vault, error) {
	if log == nil {
		log = zap.S()
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	v := &Vault{
		api:   api,
		log:   log,
		cache: cache.New[string, string](CacheSize, CacheTTL),
	}
	go v.renewLoop(ctx)

	log.Infow("vault resolver ready", "addr", cfg.Address)
	return v, nil
}

// Resolve returns the string stored under ref.Key in the KV-v2 secret
// ref.Mount/ref.Path.
func (v *Vault) Resolve(ctx context.Context, ref Ref) (string, error) {
	canonical := ref.String()

	if val, ok := v.cache.Get(canonical); ok {
		return val, nil
	}

	sec, err := v.api.KVv2(ref.Mount).Get(ctx, ref.Path)
	if err != nil {
		return "", fmt.Errorf("vault get %s/%s: %w", ref.Mount, ref.Path, err)
	}

	raw, ok := sec.Data[ref.Key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %s/%s", ref.Key, ref.Mount, ref.Path)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", canonical)
	}

	v.cache.Add(canonical, sval)

	v.log.Debugw("secret resolved", "ref", canonical)
	return sval, nil
}

/*──────────────────────────── token renewal ───────────────────────────────*/

func (v *Vault) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		wait, err := v.watchOnce(ctx)
		if err != nil {
			v.log.Warnw("vault token renewal", "err", err)
		}
		backoff(ctx, wait)
	}
}

// watchOnce renews the token until the watcher gives up and returns how long
// to wait before trying again.
func (v *Vault) watchOnce(ctx context.Context) (time.Duration, error) {
	sec, err := v.api.Auth().Token().RenewSelfWithContext(ctx, 0)
	if err != nil {
		return 30 * time.Second, fmt.Errorf("renew self: %w", err)
	}
	if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
		v.log.Infow("vault token is not renewable")
		return time.Hour, nil
	}

	w, err := v.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
	if err != nil {
		return 30 * time.Second, fmt.Errorf("lifetime watcher: %w", err)
	}
	go w.Start()
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, nil
		case err := <-w.DoneCh():
			if err != nil && !errors.Is(err, context.Canceled) {
				return 15 * time.Second, fmt.Errorf("watcher stopped: %w", err)
			}
			return 15 * time.Second, nil
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				v.log.Debugw("vault token renewed", "ttl_seconds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func backoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
