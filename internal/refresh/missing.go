package refresh

import (
	"sync"
	"time"
)

// MissingDates tracks calendar dates confirmed absent from the upstream feed,
// so repeated requests for them skip the fetch. Entries expire after the
// cleanup window so the date can be re-checked. In-memory only; losing it on
// restart costs at most one redundant fetch per date.
type MissingDates struct {
	mu     sync.Mutex
	window time.Duration
	marked map[string]time.Time // date -> when it was marked
}

func NewMissingDates(window time.Duration) *MissingDates {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &MissingDates{
		window: window,
		marked: make(map[string]time.Time),
	}
}

func dayKey(d time.Time) string {
	return d.Format("2006-01-02")
}

// Mark records the date as missing as of now.
func (m *MissingDates) Mark(d, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[dayKey(d)] = now
}

// IsMissing reports whether the date is currently known missing.
func (m *MissingDates) IsMissing(d time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.marked[dayKey(d)]
	return ok
}

// Cleanup drops entries marked longer ago than the cleanup window and returns
// how many were removed.
func (m *MissingDates) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, markedAt := range m.marked {
		if now.Sub(markedAt) > m.window {
			delete(m.marked, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked dates.
func (m *MissingDates) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marked)
}
