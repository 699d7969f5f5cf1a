package presence

import (
	"sync"
	"time"
)

// Edge is a follow relationship from a follower to a target sender.
type Edge struct {
	FollowerID string
	TargetID   string
	Since      time.Time
}

// FollowGraph maps each target to its current followers. A follower has at
// most one target at a time; following a new target replaces the old edge.
type FollowGraph struct {
	mu        sync.RWMutex
	followers map[string]map[string]Edge // target -> follower -> edge
	targets   map[string]string          // follower -> target
}

// NewFollowGraph creates an empty FollowGraph.
func NewFollowGraph() *FollowGraph {
	return &FollowGraph{
		followers: make(map[string]map[string]Edge),
		targets:   make(map[string]string),
	}
}

// Follow records follower listening to target. Idempotent; re-following the
// same target keeps the original edge. Switching targets removes the
// previous edge first.
func (g *FollowGraph) Follow(followerID, targetID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.targets[followerID]; ok {
		if prev == targetID {
			return
		}
		g.removeEdge(followerID, prev)
	}

	if g.followers[targetID] == nil {
		g.followers[targetID] = make(map[string]Edge)
	}
	g.followers[targetID][followerID] = Edge{
		FollowerID: followerID,
		TargetID:   targetID,
		Since:      time.Now(),
	}
	g.targets[followerID] = targetID
}

// Unfollow removes the edge from follower to target, if present.
func (g *FollowGraph) Unfollow(followerID, targetID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.targets[followerID] == targetID {
		g.removeEdge(followerID, targetID)
	}
}

// removeEdge deletes one edge. Caller holds the lock.
func (g *FollowGraph) removeEdge(followerID, targetID string) {
	if set, ok := g.followers[targetID]; ok {
		delete(set, followerID)
		if len(set) == 0 {
			delete(g.followers, targetID)
		}
	}
	delete(g.targets, followerID)
}

// ListenerCount returns the number of current followers of target.
func (g *FollowGraph) ListenerCount(targetID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.followers[targetID])
}

// Audience returns the follower IDs currently subscribed to target.
func (g *FollowGraph) Audience(targetID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.followers[targetID]))
	for id := range g.followers[targetID] {
		out = append(out, id)
	}
	return out
}

// TargetOf returns the target the follower is subscribed to, if any.
func (g *FollowGraph) TargetOf(followerID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	target, ok := g.targets[followerID]
	return target, ok
}

// DropTarget removes every edge targeting the user and returns the
// followers that were subscribed. Used when a sender goes offline.
func (g *FollowGraph) DropTarget(targetID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.followers[targetID]
	out := make([]string, 0, len(set))
	for follower := range set {
		delete(g.targets, follower)
		out = append(out, follower)
	}
	delete(g.followers, targetID)
	return out
}

// DropUser removes the user both as a follower and as a target. Used when a
// connection goes away entirely.
func (g *FollowGraph) DropUser(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if target, ok := g.targets[userID]; ok {
		g.removeEdge(userID, target)
	}
	for follower := range g.followers[userID] {
		delete(g.targets, follower)
	}
	delete(g.followers, userID)
}
