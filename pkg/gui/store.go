package gui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrUnknownField is returned by Update for keys that are not GUI fields.
var ErrUnknownField = errors.New("gui: unknown field")

// ChangeFunc is called after a new state has been published.
type ChangeFunc func(prev, next *State)

// Store publishes State snapshots.
type Store struct {
	current atomic.Pointer[State]

	// ValidateAvatar, if set, rejects unknown avatar names.
	ValidateAvatar func(name string) error

	mu        sync.Mutex // serializes writers and guards listeners
	listeners []ChangeFunc
}

// NewStore creates a store holding initial.
func NewStore(initial State) (*Store, error) {
	if err := initial.compile(); err != nil {
		return nil, fmt.Errorf("gui: initial state: %w", err)
	}
	s := &Store{}
	s.current.Store(&initial)
	return s, nil
}

// Load returns the current snapshot. Safe from any goroutine.
func (s *Store) Load() *State {
	return s.current.Load()
}

// OnChange registers fn to run after each successful Set or Update.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set validates and publishes next.
func (s *Store) Set(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(next)
}

// Update applies a partial change. Keys may be dotted ("debug.fps") or
// nested ({"debug": {"fps": true}}). Values from JSON decoding are accepted.
func (s *Store) Update(params map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	for key, value := range flatten("", params) {
		if err := apply(&next, key, value); err != nil {
			return err
		}
	}
	return s.publishLocked(next)
}

func (s *Store) publishLocked(next State) error {
	if err := next.compile(); err != nil {
		return fmt.Errorf("gui: background: %w", err)
	}
	if s.ValidateAvatar != nil && next.Image.Avatar != "" {
		if err := s.ValidateAvatar(next.Image.Avatar); err != nil {
			return err
		}
	}

	old := s.current.Swap(&next)
	for _, fn := range s.listeners {
		fn(old, &next)
	}
	return nil
}

func apply(st *State, key string, value interface{}) error {
	switch key {
	case "camera.device":
		v, ok := toString(value)
		if !ok {
			return typeError(key, "string", value)
		}
		st.Camera.Device = v
	case "camera.hidden":
		v, ok := toBool(value)
		if !ok {
			return typeError(key, "bool", value)
		}
		st.Camera.Hidden = v
	case "image.avatar":
		v, ok := toString(value)
		if !ok {
			return typeError(key, "string", value)
		}
		st.Image.Avatar = v
	case "image.background":
		v, ok := toString(value)
		if !ok {
			return typeError(key, "string", value)
		}
		st.Image.Background = v
	case "debug.fps":
		v, ok := toBool(value)
		if !ok {
			return typeError(key, "bool", value)
		}
		st.Debug.FPS = v
	case "debug.detection":
		v, ok := toBool(value)
		if !ok {
			return typeError(key, "bool", value)
		}
		st.Debug.Detection = v
	case "debug.avatar":
		v, ok := toBool(value)
		if !ok {
			return typeError(key, "bool", value)
		}
		st.Debug.Avatar = v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	return nil
}

func flatten(prefix string, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func typeError(key, want string, got interface{}) error {
	return fmt.Errorf("gui: %s must be a %s, got %T", key, want, got)
}

// Helper functions for type conversion

func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	}
	return "", false
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(val) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no":
			return false, true
		}
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	}
	return false, false
}
