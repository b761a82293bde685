package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Change is one accepted revision reported by a [Watcher].
type Change struct {
	Old, New *Config

	// Diff compares Old and New. RosterChanged is also set when only the
	// content of the roster file changed.
	Diff ConfigDiff
}

// fileStamp identifies a file revision.
type fileStamp struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls the config file and the roster file it references. Invalid
// config revisions are logged once and skipped; the last valid config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	config  fileStamp
	roster  fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and records the initial revisions.
// Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, stamp, _, err := restamp(path, fileStamp{})
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.config = stamp
	if cfg.Roster.Path != "" {
		if _, rs, _, err := restamp(cfg.Roster.Path, fileStamp{}); err == nil {
			w.roster = rs
		}
	}
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	old, cfgStamp, rosterStamp := w.current, w.config, w.roster
	w.mu.Unlock()

	data, cfgStamp, cfgChanged, err := restamp(w.path, cfgStamp)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}

	next := old
	if cfgChanged {
		cfg, err := LoadFromReader(bytes.NewReader(data))
		if err != nil {
			slog.Warn("config watcher: revision rejected", "path", w.path, "err", err)
			w.mu.Lock()
			w.config = cfgStamp
			w.mu.Unlock()
			return
		}
		next = cfg
	}

	rosterChanged := false
	if p := next.Roster.Path; p != "" {
		if p != old.Roster.Path {
			rosterStamp = fileStamp{}
		}
		_, rs, changed, err := restamp(p, rosterStamp)
		if err != nil {
			slog.Warn("config watcher: cannot read roster", "path", p, "err", err)
		} else {
			rosterStamp, rosterChanged = rs, changed
		}
	}

	w.mu.Lock()
	w.current = next
	w.config = cfgStamp
	w.roster = rosterStamp
	w.mu.Unlock()

	if !cfgChanged && !rosterChanged {
		return
	}

	d := Diff(old, next)
	d.RosterChanged = d.RosterChanged || rosterChanged
	slog.Info("config watcher: revision accepted",
		"path", w.path,
		"config", cfgChanged,
		"roster", rosterChanged,
	)
	if w.onChange != nil {
		w.onChange(Change{Old: old, New: next, Diff: d})
	}
}

// restamp re-reads path when its mtime moved past prev. changed reports a
// content difference; a touch alone only refreshes the stamp.
func restamp(path string, prev fileStamp) (data []byte, next fileStamp, changed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, prev, false, err
	}
	if !prev.mtime.IsZero() && info.ModTime().Equal(prev.mtime) {
		return nil, prev, false, nil
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, prev, false, err
	}
	next = fileStamp{mtime: info.ModTime(), hash: sha256.Sum256(data)}
	return data, next, next.hash != prev.hash, nil
}
