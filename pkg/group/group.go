// Package group implements spec §4.H: a named fan-out list of sessions and
// nested sub-groups. A session's group membership is weak — it never
// keeps a disconnected client's Session value alive past its own
// lifetime — and broadcast traversal is depth-first with a visited set so
// cyclic group membership can neither loop forever nor double-deliver.
package group

import (
	"sync"
	"weak"

	"github.com/rs/xid"

	"github.com/zentalk/relaynet/pkg/proto"
	"github.com/zentalk/relaynet/pkg/session"
	"github.com/zentalk/relaynet/pkg/wire"
)

// Group is a named, mutable collection of sessions and nested groups.
// It is safe for concurrent use.
type Group struct {
	ID   xid.ID
	Name string

	mu        sync.RWMutex
	sessions  map[proto.ID]weak.Pointer[session.Session]
	subgroups map[xid.ID]*Group
}

// New creates an empty group identified by a freshly minted xid.
func New(name string) *Group {
	return &Group{
		ID:        xid.New(),
		Name:      name,
		sessions:  make(map[proto.ID]weak.Pointer[session.Session]),
		subgroups: make(map[xid.ID]*Group),
	}
}

// AddSession enrolls s as a member. The group holds only a weak reference:
// once s is no longer referenced elsewhere and is collected, or once it
// reaches StateClosed, it is pruned from the group lazily on the next
// Send or Prune.
func (g *Group) AddSession(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID()] = weak.Make(s)
}

// RemoveSession evicts a member by identifier.
func (g *Group) RemoveSession(id proto.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, id)
}

// AddGroup nests child under g. Nested groups are held strongly: a group's
// lifetime is managed explicitly by whoever constructed it, unlike a
// session's.
func (g *Group) AddGroup(child *Group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subgroups[child.ID] = child
}

// RemoveGroup un-nests a previously added sub-group.
func (g *Group) RemoveGroup(id xid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subgroups, id)
}

// Send broadcasts v to every live session reachable from g, direct or
// through nested groups, exactly once each, regardless of how many
// distinct paths reach it. Per-recipient failures are collected and
// returned rather than aborting the broadcast (spec §4.H: best-effort
// delivery).
func (g *Group) Send(v wire.Value) []error {
	visitedGroups := make(map[xid.ID]bool)
	delivered := make(map[proto.ID]bool)
	var errs []error
	g.send(v, visitedGroups, delivered, &errs)
	return errs
}

func (g *Group) send(v wire.Value, visitedGroups map[xid.ID]bool, delivered map[proto.ID]bool, errs *[]error) {
	if visitedGroups[g.ID] {
		return
	}
	visitedGroups[g.ID] = true

	for _, id := range g.liveMemberIDs() {
		if delivered[id] {
			continue
		}
		s := g.lookup(id)
		if s == nil {
			continue
		}
		delivered[id] = true
		if err := s.Send(v); err != nil {
			*errs = append(*errs, err)
		}
	}

	for _, child := range g.children() {
		child.send(v, visitedGroups, delivered, errs)
	}
}

// liveMemberIDs snapshots the current session membership, pruning any
// member whose weak reference has been collected or whose session has
// reached StateClosed.
func (g *Group) liveMemberIDs() []proto.ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]proto.ID, 0, len(g.sessions))
	for id, wp := range g.sessions {
		s := wp.Value()
		if s == nil || s.Closed() {
			delete(g.sessions, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (g *Group) lookup(id proto.ID) *session.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	wp, ok := g.sessions[id]
	if !ok {
		return nil
	}
	return wp.Value()
}

func (g *Group) children() []*Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Group, 0, len(g.subgroups))
	for _, child := range g.subgroups {
		out = append(out, child)
	}
	return out
}

// Prune drops dead session references without sending anything.
func (g *Group) Prune() {
	g.liveMemberIDs()
}

// SessionCount reports the number of live direct session members,
// pruning dead ones as a side effect.
func (g *Group) SessionCount() int {
	return len(g.liveMemberIDs())
}
