// Package presence tracks which senders are currently live and who follows
// whom. Staleness is computed at query time against a liveness window, so
// no background sweep is needed for correctness.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Entry is one live sender in the directory.
type Entry struct {
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	Since          time.Time `json:"since"`
	LastSeen       time.Time `json:"lastSeen"`
	LastKnownTrack string    `json:"lastKnownTrack,omitempty"`

	seq uint64
}

// Directory is the registry of currently live senders.
type Directory struct {
	mu        sync.RWMutex
	window    time.Duration
	seq       uint64
	entries   map[string]*Entry
	onOffline func(userID string)
}

// NewDirectory creates a Directory with the given liveness window.
// onOffline, if non-nil, is invoked after an entry is removed so follow
// edges targeting that user can be cascaded away. It may be nil.
func NewDirectory(window time.Duration, onOffline func(userID string)) *Directory {
	return &Directory{
		window:    window,
		entries:   make(map[string]*Entry),
		onOffline: onOffline,
	}
}

// GoLive inserts or overwrites the entry for the user.
func (d *Directory) GoLive(userID, displayName string) {
	now := time.Now()

	d.mu.Lock()
	d.seq++
	d.entries[userID] = &Entry{
		UserID:      userID,
		DisplayName: displayName,
		Since:       now,
		LastSeen:    now,
		seq:         d.seq,
	}
	d.mu.Unlock()
}

// GoOffline removes the user's entry and reports whether one existed.
// Follow edges targeting the user are cascaded via the onOffline hook.
func (d *Directory) GoOffline(userID string) bool {
	d.mu.Lock()
	_, ok := d.entries[userID]
	delete(d.entries, userID)
	d.mu.Unlock()

	if ok && d.onOffline != nil {
		d.onOffline(userID)
	}
	return ok
}

// Ping refreshes only the user's last-seen timestamp.
func (d *Directory) Ping(userID string) {
	d.mu.Lock()
	if e, ok := d.entries[userID]; ok {
		e.LastSeen = time.Now()
	}
	d.mu.Unlock()
}

// Touch refreshes the last-seen timestamp and records the last known track.
// Called on every sync emission so a sharing sender never goes stale.
func (d *Directory) Touch(userID, track string) {
	d.mu.Lock()
	if e, ok := d.entries[userID]; ok {
		e.LastSeen = time.Now()
		if track != "" {
			e.LastKnownTrack = track
		}
	}
	d.mu.Unlock()
}

// Get returns the user's entry regardless of staleness.
func (d *Directory) Get(userID string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsLive reports whether the user has a non-stale entry.
func (d *Directory) IsLive(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[userID]
	return ok && time.Since(e.LastSeen) <= d.window
}

// Snapshot returns the non-stale entries at now, most-recently-seen first,
// ties broken by insertion order.
func (d *Directory) Snapshot(now time.Time) []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if now.Sub(e.LastSeen) <= d.window {
			out = append(out, *e)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].seq < out[j].seq
	})
	return out
}
