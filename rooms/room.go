package rooms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ramory-l/kissio"
)

// Room is a named set of socket ids within one namespace. It only
// references sockets; members are resolved against the live registry.
type Room struct {
	id     string
	plugin *Plugin

	mu      sync.RWMutex
	members map[string]struct{}
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// Has reports whether socketID is a member.
func (r *Room) Has(socketID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[socketID]
	return ok
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SocketIDs returns the member ids, sorted.
func (r *Room) SocketIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sockets resolves the members that are still connected.
func (r *Room) Sockets() []*kissio.Socket {
	ns := r.plugin.Namespace()

	var out []*kissio.Socket
	for _, id := range r.SocketIDs() {
		if s, ok := ns.Socket(id); ok && s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

func (r *Room) add(socketID string) {
	r.mu.Lock()
	r.members[socketID] = struct{}{}
	r.mu.Unlock()
}

func (r *Room) remove(socketID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, socketID)
	return len(r.members)
}

// Except returns a Target that skips the given socket ids.
func (r *Room) Except(socketIDs ...string) *Target {
	t := &Target{room: r, compress: true}
	return t.Except(socketIDs...)
}

// Broadcast emits event to every live member.
func (r *Room) Broadcast(event string, args ...any) error {
	return (&Target{room: r, compress: true}).Broadcast(event, args...)
}

// Emit is an alias of Broadcast.
func (r *Room) Emit(event string, args ...any) error {
	return r.Broadcast(event, args...)
}

// Target is a room broadcast with call-scoped options.
type Target struct {
	room     *Room
	except   []string
	volatile bool
	compress bool
}

// Room returns the targeted room.
func (t *Target) Room() *Room {
	return t.room
}

// Except returns a copy of t that also skips socketIDs.
func (t *Target) Except(socketIDs ...string) *Target {
	c := *t
	c.except = append(append([]string(nil), t.except...), socketIDs...)
	return &c
}

// Volatile returns a copy of t whose packets may be dropped.
func (t *Target) Volatile() *Target {
	c := *t
	c.volatile = true
	return &c
}

// Compress returns a copy of t with the compress flag set.
func (t *Target) Compress(compress bool) *Target {
	c := *t
	c.compress = compress
	return &c
}

// Broadcast emits event to every live member not excluded by t. The member
// set is snapshotted first; ids of sockets that are gone are skipped.
func (t *Target) Broadcast(event string, args ...any) error {
	if kissio.IsReservedEvent(event) {
		return fmt.Errorf("broadcast %q: %w", event, kissio.ErrReservedEvent)
	}
	if len(args) > 0 {
		switch args[len(args)-1].(type) {
		case kissio.AckFunc, func(...any):
			return kissio.ErrBroadcastAck
		}
	}

	exclude := make(map[string]struct{}, len(t.except))
	for _, id := range t.except {
		exclude[id] = struct{}{}
	}

	ns := t.room.plugin.Namespace()
	opts := kissio.EmitOptions{Volatile: t.volatile, Compress: t.compress}

	for _, id := range t.room.SocketIDs() {
		if _, skip := exclude[id]; skip {
			continue
		}
		s, ok := ns.Socket(id)
		if !ok || !s.Connected() {
			continue
		}
		if err := s.EmitWithOptions(opts, event, args...); err != nil {
			ns.Logger().Debug("room broadcast emit failed", "room", t.room.id, "socket_id", id, "error", err)
		}
	}
	return nil
}

// Emit is an alias of Broadcast.
func (t *Target) Emit(event string, args ...any) error {
	return t.Broadcast(event, args...)
}
