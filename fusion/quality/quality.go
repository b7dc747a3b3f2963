// Package quality classifies GNSS reception by the number of satellites
// used in the current fix, and reports only when the class changes.
package quality

import (
	"fmt"
	"sync"
)

type Quality int

const (
	Unset Quality = iota
	Fine
	Low
	Invalid
)

func (q Quality) String() string {
	switch q {
	case Fine:
		return "fine"
	case Low:
		return "low"
	case Invalid:
		return "invalid"
	}
	return "unset"
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(text []byte) error {
	for _, c := range []Quality{Unset, Fine, Low, Invalid} {
		if c.String() == string(text) {
			*q = c
			return nil
		}
	}
	return fmt.Errorf("unknown quality %q", text)
}

// Message and Icon are what a host shows for each class.
func (q Quality) Message() string {
	switch q {
	case Fine:
		return "GNSS reception is good"
	case Low:
		return "GNSS reception is low"
	case Invalid:
		return "GNSS reception is insufficient for a fix"
	}
	return ""
}

func (q Quality) Icon() string {
	switch q {
	case Fine:
		return "gnss-fine"
	case Low:
		return "gnss-low"
	case Invalid:
		return "gnss-off"
	}
	return ""
}

// Change is emitted when the classification differs from the previous one.
type Change struct {
	Previous   Quality `json:"previous"`
	Current    Quality `json:"current"`
	Satellites int     `json:"satellites"`
	Message    string  `json:"message"`
	Icon       string  `json:"icon"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s -> %s (%d satellites)", c.Previous, c.Current, c.Satellites)
}

// Monitor is safe for concurrent use.
type Monitor struct {
	preferred, min int

	mu      sync.Mutex
	current Quality
}

// NewMonitor returns a monitor classifying n >= preferred as Fine,
// min <= n < preferred as Low, and fewer as Invalid.
func NewMonitor(preferred, min int) *Monitor {
	if min > preferred {
		min = preferred
	}
	return &Monitor{preferred: preferred, min: min}
}

func (m *Monitor) Classify(n int) Quality {
	switch {
	case n >= m.preferred:
		return Fine
	case n >= m.min:
		return Low
	}
	return Invalid
}

// Observe classifies n active satellites. It returns the change and true
// only when the class differs from the last one; the first classification always does.
func (m *Monitor) Observe(n int) (Change, bool) {
	next := m.Classify(n)

	m.mu.Lock()
	defer m.mu.Unlock()
	if next == m.current {
		return Change{}, false
	}
	c := Change{
		Previous:   m.current,
		Current:    next,
		Satellites: n,
		Message:    next.Message(),
		Icon:       next.Icon(),
	}
	m.current = next
	return c, true
}

func (m *Monitor) Current() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset forgets the last classification so the next observation emits.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.current = Unset
	m.mu.Unlock()
}

// CountUsedInFix counts the satellites flagged as used in the fix.
func CountUsedInFix(used []bool) int {
	n := 0
	for _, u := range used {
		if u {
			n++
		}
	}
	return n
}
