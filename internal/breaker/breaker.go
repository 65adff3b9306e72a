// Package breaker implements the global circuit breaker (spec.md §4.8): a
// consecutive-failure counter across all tasks, persisted to a small TOML
// state file outside the SQLite database so a tripped breaker survives a
// failed DB migration or a corrupted database.
package breaker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
)

// State is the on-disk representation of the breaker, written with
// BurntSushi/toml the same way the rest of the supervisor's flat config
// files are.
type State struct {
	ConsecutiveFailures int       `toml:"consecutive_failures"`
	Tripped             bool      `toml:"tripped"`
	TrippedAt           time.Time `toml:"tripped_at"`
}

// Breaker wraps a state file with the threshold/cooldown tunables spec.md
// §4.8 names, and a file lock so concurrent supervisor invocations (e.g. a
// foreground `circuit-breaker status` next to a running daemon pulse) never
// torn-write the state file.
type Breaker struct {
	path      string
	lock      *flock.Flock
	Threshold int           // default 3
	Cooldown  time.Duration // default 30 min
}

// New returns a Breaker backed by path, with spec.md's defaults.
func New(path string) *Breaker {
	return &Breaker{
		path:      path,
		lock:      flock.New(path + ".lock"),
		Threshold: 3,
		Cooldown:  30 * time.Minute,
	}
}

func (b *Breaker) load() (State, error) {
	var s State
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading breaker state %s: %w", b.path, err)
	}
	if _, err := toml.Decode(string(data), &s); err != nil {
		return State{}, fmt.Errorf("decoding breaker state %s: %w", b.path, err)
	}
	return s, nil
}

func (b *Breaker) save(s State) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("creating breaker state dir: %w", err)
	}
	tmp := b.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating breaker temp file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		return fmt.Errorf("encoding breaker state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// Check reports whether the breaker currently refuses dispatch, auto-
// resetting it first if the cooldown has elapsed.
func (b *Breaker) Check(now time.Time) (tripped bool, err error) {
	if err := b.lock.Lock(); err != nil {
		return false, fmt.Errorf("locking breaker state: %w", err)
	}
	defer b.lock.Unlock()

	s, err := b.load()
	if err != nil {
		return false, err
	}
	if s.Tripped && now.Sub(s.TrippedAt) >= b.Cooldown {
		s.Tripped = false
		s.ConsecutiveFailures = 0
		if err := b.save(s); err != nil {
			return false, err
		}
	}
	return s.Tripped, nil
}

// RecordFailure increments the global counter and trips the breaker at the
// configured threshold.
func (b *Breaker) RecordFailure(now time.Time) error {
	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("locking breaker state: %w", err)
	}
	defer b.lock.Unlock()

	s, err := b.load()
	if err != nil {
		return err
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= b.Threshold {
		s.Tripped = true
		s.TrippedAt = now
	}
	return b.save(s)
}

// RecordSuccess resets the breaker immediately -- the first successful task
// completion clears it (spec.md §4.8), it need not wait for the cooldown.
func (b *Breaker) RecordSuccess() error {
	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("locking breaker state: %w", err)
	}
	defer b.lock.Unlock()
	return b.save(State{})
}

// Trip forces the breaker open, for the `circuit-breaker trip` CLI command.
func (b *Breaker) Trip(now time.Time) error {
	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("locking breaker state: %w", err)
	}
	defer b.lock.Unlock()
	s, err := b.load()
	if err != nil {
		return err
	}
	s.Tripped = true
	s.TrippedAt = now
	if s.ConsecutiveFailures < b.Threshold {
		s.ConsecutiveFailures = b.Threshold
	}
	return b.save(s)
}

// Reset forces the breaker closed, for the `circuit-breaker reset` CLI command.
func (b *Breaker) Reset() error {
	return b.RecordSuccess()
}

// Status returns the current on-disk state for reporting, without mutating it.
func (b *Breaker) Status() (State, error) {
	if err := b.lock.RLock(); err != nil {
		return State{}, fmt.Errorf("locking breaker state: %w", err)
	}
	defer b.lock.Unlock()
	return b.load()
}
