// Package prefs manages the presentation-layer preferences (theme and active
// tab). They are persisted next to the ledger but never touch it.
package prefs

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/store"
)

// Preference keys
const (
	KeyTheme = "theme"
	KeyTab   = "active_tab"
)

// ValidationError rejects a preference value; the prior value is kept
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Key, e.Value, e.Reason)
}

// Options restrict accepted values. Empty lists accept any non-empty value.
type Options struct {
	Themes []string
	Tabs   []string
}

// Service holds the current preferences and writes changes through the gateway
type Service struct {
	gw   store.Gateway
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	current store.Prefs
	lastErr error
}

// New loads stored preferences. Load failures fall back to defaults and are
// logged, never returned.
func New(gw store.Gateway, opts Options, log zerolog.Logger) *Service {
	s := &Service{gw: gw, opts: opts, log: log}
	p, err := gw.LoadPrefs()
	if err != nil {
		log.Warn().Err(err).Msg("loading preferences failed, using defaults")
		p = store.DefaultPrefs()
	}
	s.current = p.WithDefaults()
	return s
}

// Get returns the current preferences
func (s *Service) Get() store.Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the last persistence failure, nil after a successful save
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Set validates and stores one preference. A failed save is logged and
// reported by Err; the new value still takes effect in memory.
func (s *Service) Set(key, value string) error {
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	switch key {
	case KeyTheme:
		if err := check(key, value, s.opts.Themes); err != nil {
			return err
		}
		next.Theme = value
	case KeyTab:
		if err := check(key, value, s.opts.Tabs); err != nil {
			return err
		}
		next.ActiveTab = value
	default:
		return &ValidationError{Key: key, Value: value, Reason: "unknown preference"}
	}

	s.current = next
	s.lastErr = s.gw.SavePrefs(next)
	if s.lastErr != nil {
		s.log.Warn().Err(s.lastErr).Str("key", key).Msg("saving preferences failed")
	}
	return nil
}

// Update applies every non-empty field of p. Nothing changes if any field
// fails validation.
func (s *Service) Update(p store.Prefs) error {
	cur := s.Get()
	if p.Theme != "" {
		if err := check(KeyTheme, strings.TrimSpace(p.Theme), s.opts.Themes); err != nil {
			return err
		}
	}
	if p.ActiveTab != "" {
		if err := check(KeyTab, strings.TrimSpace(p.ActiveTab), s.opts.Tabs); err != nil {
			return err
		}
	}
	if p.Theme != "" && p.Theme != cur.Theme {
		if err := s.Set(KeyTheme, p.Theme); err != nil {
			return err
		}
	}
	if p.ActiveTab != "" && p.ActiveTab != cur.ActiveTab {
		if err := s.Set(KeyTab, p.ActiveTab); err != nil {
			return err
		}
	}
	return nil
}

func check(key, value string, allowed []string) error {
	if value == "" {
		return &ValidationError{Key: key, Value: value, Reason: "must not be empty"}
	}
	if len(allowed) > 0 && !slices.Contains(allowed, value) {
		return &ValidationError{Key: key, Value: value, Reason: "not one of " + strings.Join(allowed, ", ")}
	}
	return nil
}
