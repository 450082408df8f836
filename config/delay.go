package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
)

var ErrNoOverrideFile = errors.New("config: no user override file configured")

// BuildBufferDelayMs is set at link time:
//
//	go build -ldflags "-X github.com/webitel/im-coalescer-service/config.BuildBufferDelayMs=250"
var BuildBufferDelayMs = ""

// The bounds are the engine's, so resolution and SetDelay clamp alike.
const (
	DefaultDelay = coalescer.DefaultDelay
	MinDelay     = coalescer.MinDelay
	MaxDelay     = coalescer.MaxDelay

	userDelayKey = "buffer_delay_ms"
)

func buildDelayMs() int {
	ms, err := strconv.Atoi(BuildBufferDelayMs)
	if err != nil || ms < 0 {
		return 0
	}
	return ms
}

// DelaySource names the level a resolved delay came from.
type DelaySource string

const (
	SourceRuntime DelaySource = "runtime"
	SourceDeploy  DelaySource = "deploy"
	SourceUser    DelaySource = "user"
	SourceDefault DelaySource = "default"
)

// DelayResolver applies the debounce delay precedence:
// runtime override > deploy-time setting > persisted user override > default.
// A zero value leaves its level unset. The result is always clamped.
type DelayResolver struct {
	mu        sync.RWMutex
	runtime   time.Duration
	deploy    time.Duration
	user      time.Duration
	listeners []func(time.Duration, DelaySource)

	// [USER_OVERRIDE_FILE]
	path    string
	watcher *fsnotify.Watcher
	doneCh  chan struct{}
	logger  *slog.Logger
}

func NewDelayResolver(cfg *Config, logger *slog.Logger) *DelayResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelayResolver{
		runtime: msToDuration(cfg.RuntimeDelayMs),
		deploy:  msToDuration(cfg.Coalescer.BufferDelayMs),
		path:    cfg.Coalescer.UserOverrideFile,
		logger:  logger.With("component", "delay_resolver"),
	}
}

func msToDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Resolve returns the effective delay and the level it came from.
func (r *DelayResolver) Resolve() (time.Duration, DelaySource) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked()
}

func (r *DelayResolver) resolveLocked() (time.Duration, DelaySource) {
	switch {
	case r.runtime > 0:
		return coalescer.ClampDelay(r.runtime), SourceRuntime
	case r.deploy > 0:
		return coalescer.ClampDelay(r.deploy), SourceDeploy
	case r.user > 0:
		return coalescer.ClampDelay(r.user), SourceUser
	}
	return DefaultDelay, SourceDefault
}

// OnChange registers fn to run after every change of the effective delay.
func (r *DelayResolver) OnChange(fn func(time.Duration, DelaySource)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// SetRuntime replaces the runtime override. Zero clears it.
func (r *DelayResolver) SetRuntime(d time.Duration) {
	r.update(func() { r.runtime = max(d, 0) })
}

// SetUser replaces the in-memory user override without persisting it.
func (r *DelayResolver) SetUser(d time.Duration) {
	r.update(func() { r.user = max(d, 0) })
}

func (r *DelayResolver) update(mutate func()) {
	r.mu.Lock()
	before, _ := r.resolveLocked()
	mutate()
	after, src := r.resolveLocked()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	if before == after {
		return
	}
	r.logger.Info("DELAY_RESOLVED", "delay_ms", after.Milliseconds(), "source", src)
	for _, fn := range listeners {
		fn(after, src)
	}
}

// PersistUser writes d to the user override file and applies it.
func (r *DelayResolver) PersistUser(d time.Duration) error {
	if r.path == "" {
		return ErrNoOverrideFile
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set(userDelayKey, d.Milliseconds())
	if err := v.WriteConfigAs(r.path); err != nil {
		return fmt.Errorf("config: write user override: %w", err)
	}
	r.SetUser(d)
	return nil
}

// LoadUser reads the user override file once. A missing file is not an error.
func (r *DelayResolver) LoadUser() error {
	if r.path == "" {
		return nil
	}
	d, err := readUserDelay(r.path)
	if err != nil {
		return err
	}
	r.SetUser(d)
	return nil
}

func readUserDelay(path string) (time.Duration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("config: read user override: %w", err)
	}
	return msToDuration(v.GetInt(userDelayKey)), nil
}

// Watch loads the user override file and reloads it on every change until
// Close. The parent directory is watched so editors that replace the file
// are followed.
func (r *DelayResolver) Watch() error {
	if r.path == "" {
		return nil
	}
	if err := r.LoadUser(); err != nil {
		r.logger.Warn("USER_OVERRIDE_LOAD_FAILED", "path", r.path, "err", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: prepare %s: %w", dir, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	r.watcher = w
	r.doneCh = make(chan struct{})
	go r.watchLoop(filepath.Clean(r.path))
	return nil
}

func (r *DelayResolver) watchLoop(target string) {
	defer close(r.doneCh)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				r.SetUser(0)
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				d, err := readUserDelay(target)
				if err != nil {
					r.logger.Warn("USER_OVERRIDE_RELOAD_FAILED", "path", target, "err", err)
					continue
				}
				r.SetUser(d)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("USER_OVERRIDE_WATCH_ERROR", "err", err)
		}
	}
}

// Close stops the file watcher, if any.
func (r *DelayResolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.doneCh
	return err
}
