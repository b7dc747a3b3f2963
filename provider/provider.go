// Package provider describes the platform's location sources
// and the contract a tracking session uses to subscribe to them.
package provider

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind names a location source.
type Kind string

const (
	GNSS    Kind = "gps"
	Network Kind = "network"
)

func (k Kind) Valid() bool {
	return k == GNSS || k == Network
}

var ErrUnknownKind = errors.New("unknown provider kind")

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if k == "gnss" {
		k = GNSS
	}
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Locator is the platform's location service.
// Fixes requested here are delivered back through the session's OnLocation.
type Locator interface {
	RequestUpdates(kind Kind, minInterval time.Duration, minDistance float64) error
	RemoveUpdates(kind Kind) error
	Enabled(kind Kind) bool
}

// Manual is an in-process Locator for callers that deliver
// recorded or remote fixes themselves, e.g. replay and the web daemon.
// It tracks which providers are subscribed and lets callers toggle availability.
type Manual struct {
	mu         sync.Mutex
	disabled   map[Kind]bool
	subscribed map[Kind]time.Duration
}

func NewManual(enabled ...Kind) *Manual {
	m := &Manual{
		disabled:   map[Kind]bool{GNSS: true, Network: true},
		subscribed: map[Kind]time.Duration{},
	}
	if len(enabled) == 0 {
		enabled = []Kind{GNSS, Network}
	}
	for _, k := range enabled {
		delete(m.disabled, k)
	}
	return m
}

func (m *Manual) SetEnabled(kind Kind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		delete(m.disabled, kind)
	} else {
		m.disabled[kind] = true
	}
}

func (m *Manual) Enabled(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return kind.Valid() && !m.disabled[kind]
}

func (m *Manual) RequestUpdates(kind Kind, minInterval time.Duration, minDistance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if m.disabled[kind] {
		return fmt.Errorf("provider %s disabled", kind)
	}
	m.subscribed[kind] = minInterval
	return nil
}

func (m *Manual) RemoveUpdates(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribed, kind)
	return nil
}

// Subscribed reports whether kind currently has an update request,
// and the requested interval.
func (m *Manual) Subscribed(kind Kind) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.subscribed[kind]
	return d, ok
}
