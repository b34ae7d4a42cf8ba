package scoring

import (
	"sync"
	"time"

	"github.com/asiatensor/soulx-validator/core"
)

// History is the passive per-hotkey store of dispatch outcomes. The
// dispatcher appends; the weight engine snapshots and rolls cycles over.
type History struct {
	mu         sync.Mutex
	entries    map[string][]core.ScoringResult
	historical map[string]float64
	cycleStart time.Time
	retention  time.Duration
	alpha      float64
}

// NewHistory builds an empty history with the protocol retention window.
func NewHistory() *History {
	return &History{
		entries:    make(map[string][]core.ScoringResult),
		historical: make(map[string]float64),
		cycleStart: time.Now(),
		retention:  core.HistoryRetention,
		alpha:      core.HistoryAlpha,
	}
}

// Append records one dispatch outcome for a miner hotkey.
func (h *History) Append(hotkey string, result core.ScoringResult) {
	h.mu.Lock()
	h.entries[hotkey] = append(h.entries[hotkey], result)
	h.mu.Unlock()
}

// CurrentScore returns the arithmetic mean of the hotkey's entries in the
// current cycle, 0 when it has none.
func (h *History) CurrentScore(hotkey string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentLocked(hotkey)
}

func (h *History) currentLocked(hotkey string) float64 {
	var sum float64
	n := 0
	for _, e := range h.entries[hotkey] {
		if e.Timestamp.Before(h.cycleStart) {
			continue
		}
		sum += e.QualityScore
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// HistoricalScore returns the exponentially smoothed mean of past cycle
// averages for the hotkey, 0 before its first rollover.
func (h *History) HistoricalScore(hotkey string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.historical[hotkey]
}

// SnapshotCurrent returns current-cycle scores for every hotkey with at
// least one entry this cycle.
func (h *History) SnapshotCurrent() map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := make(map[string]float64, len(h.entries))
	for hotkey := range h.entries {
		if s := h.currentLocked(hotkey); s != 0 || h.hasCurrentLocked(hotkey) {
			snap[hotkey] = s
		}
	}
	return snap
}

func (h *History) hasCurrentLocked(hotkey string) bool {
	for _, e := range h.entries[hotkey] {
		if !e.Timestamp.Before(h.cycleStart) {
			return true
		}
	}
	return false
}

// Rollover closes the current cycle: each hotkey's cycle mean is folded
// into its historical score, entries past the retention window are pruned,
// and a new cycle starts. Called by the weight engine after a successful
// submission.
func (h *History) Rollover() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for hotkey := range h.entries {
		if !h.hasCurrentLocked(hotkey) {
			continue
		}
		cycleMean := h.currentLocked(hotkey)
		if prev, ok := h.historical[hotkey]; ok {
			h.historical[hotkey] = h.alpha*cycleMean + (1-h.alpha)*prev
		} else {
			h.historical[hotkey] = cycleMean
		}
	}

	cutoff := time.Now().Add(-h.retention)
	for hotkey, list := range h.entries {
		kept := list[:0]
		for _, e := range list {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(h.entries, hotkey)
		} else {
			h.entries[hotkey] = kept
		}
	}

	h.cycleStart = time.Now()
}

// ResetHotkey drops all state for a hotkey, used when a uid is taken over
// by a new registration.
func (h *History) ResetHotkey(hotkey string) {
	h.mu.Lock()
	delete(h.entries, hotkey)
	delete(h.historical, hotkey)
	h.mu.Unlock()
}
