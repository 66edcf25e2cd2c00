package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads the configuration file with Viper, validates it, and
// publishes Snapshots to a Holder. It watches the file with fsnotify so
// edits made out-of-band (an operator editing the YAML directly) take
// effect without a restart, same as admin-triggered reloads.
type Loader struct {
	path   string
	holder *Holder
	log    *zap.Logger

	mu sync.Mutex // serializes reload attempts and write-backs
	v  *viper.Viper
}

// New constructs a Loader and performs the initial load; the populated
// Holder is available through Holder(). A failure here is fatal at startup,
// per the spec's ConfigInvalid policy.
func New(path string, log *zap.Logger) (*Loader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loader{path: path, log: log, v: newViper(path)}

	snap, err := l.load()
	if err != nil {
		return nil, fmt.Errorf("config: initial load failed: %w", err)
	}
	l.holder = NewHolder(snap)
	return l, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("abuse.max_attempts", 10)
	v.SetDefault("abuse.attempt_window_seconds", 300)
	v.SetDefault("abuse.block_duration_seconds", 900)
	v.SetDefault("middleware.key_header", "X-API-Key")
	v.SetDefault("middleware.trust_x_forwarded_for", false)
	v.SetDefault("middleware.allowlist_paths", []string{"/health", "/docs"})
	v.SetDefault("health.cache_ttl_seconds", 2)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 6379)
	v.SetDefault("store.timeout", "5ms")
	v.SetDefault("store.max_connections", 50)

	v.SetEnvPrefix("STORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.BindEnv("store.host", "STORE_HOST")
	v.BindEnv("store.port", "STORE_PORT")
	v.BindEnv("store.db", "STORE_DB")
	v.BindEnv("store.timeout", "STORE_TIMEOUT")
	v.BindEnv("admin.key", "ADMIN_KEY")
	return v
}

// Holder returns the Holder snapshots are published to.
func (l *Loader) Holder() *Holder { return l.holder }

// Snapshot is a convenience accessor for the current configuration.
func (l *Loader) Snapshot() *Snapshot { return l.holder.Load() }

func (l *Loader) load() (*Snapshot, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return NewSnapshot(&cfg), nil
}

// Reload re-reads and re-validates the configuration file. On success it
// publishes a new Snapshot; on failure it leaves the prior Snapshot in
// force and returns the error for the caller to log, per the spec's
// "reload is non-fatal" policy.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.load()
	if err != nil {
		l.log.Error("config reload failed, retaining prior snapshot", zap.Error(err))
		return err
	}
	l.holder.Store(snap)
	l.log.Info("config reloaded")
	return nil
}

// Watch starts an fsnotify watcher on the configuration file's directory
// and triggers Reload on write/create events for that file. It runs
// until stopCh is closed.
func (l *Loader) Watch(stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}

	dir := dirOf(l.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isRelevant(event, l.path) {
					continue
				}
				if err := l.Reload(); err != nil {
					l.log.Warn("reload triggered by file watch failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func isRelevant(event fsnotify.Event, path string) bool {
	if event.Name != path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// WriteBackUser records a user's tier assignment in Viper's settings,
// synchronously writes the full document back to disk, then reloads from
// that file and publishes the resulting snapshot. See DESIGN.md for why admin mutations are handled this
// way rather than mutating only Redis or only the file.
func (l *Loader) WriteBackUser(userID, tier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.Snapshot().Tiers[tier]; !ok {
		return fmt.Errorf("config: unknown tier %q", tier)
	}

	l.v.Set(fmt.Sprintf("users.%s.tier", userID), tier)
	return l.writeAndReloadLocked()
}

// WriteBackCredential persists a credential -> user mapping.
func (l *Loader) WriteBackCredential(credential, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := validCredentialFormat(credential); err != nil {
		return err
	}
	l.v.Set(fmt.Sprintf("api_keys.%s", credential), userID)
	return l.writeAndReloadLocked()
}

// writeAndReloadLocked marshals Viper's current settings to YAML,
// overwrites the configuration file, and reloads it. Callers must hold
// l.mu.
func (l *Loader) writeAndReloadLocked() error {
	all := l.v.AllSettings()
	out, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("config: marshal write-back: %w", err)
	}
	if err := os.WriteFile(l.path, out, 0o644); err != nil {
		return fmt.Errorf("config: write-back: %w", err)
	}

	snap, err := l.load()
	if err != nil {
		l.log.Error("write-back produced invalid config, retaining prior snapshot", zap.Error(err))
		return err
	}
	l.holder.Store(snap)
	return nil
}
