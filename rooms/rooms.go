// Package rooms is a kissio plugin that groups the sockets of a namespace
// into named rooms for scoped broadcasts.
package rooms

import (
	"errors"
	"sort"
	"sync"

	"github.com/ramory-l/kissio"
)

// Capability is the name the plugin registers on namespaces and sockets.
const Capability = "rooms"

var ErrNotPlugged = errors.New("rooms plugin is not plugged into the namespace")

// Plugin keeps the rooms of one namespace.
type Plugin struct {
	kissio.BasePlugin

	mu    sync.RWMutex
	rooms map[string]*Room
}

// New builds a room plugin bound to ns. opts is unused.
func New(ns *kissio.Namespace, opts any) *Plugin {
	return &Plugin{
		BasePlugin: kissio.NewBasePlugin(ns, opts),
		rooms:      make(map[string]*Room),
	}
}

// Constructor adapts New to kissio.PluginConstructor.
func Constructor(ns *kissio.Namespace, opts any) kissio.Plugin {
	return New(ns, opts)
}

// Exports implements kissio.Plugin. Each socket gets its own Membership,
// released on pre-disconnect. Sockets rejected during admission go through
// pre-disconnect too.
func (p *Plugin) Exports() kissio.Exports {
	router := kissio.NewRouter()
	router.On(kissio.EventPreDisconnect, func(ctx *kissio.Context, _ ...any) {
		p.release(ctx.Socket)
		ctx.Next(nil)
	})

	return kissio.Exports{
		Namespace: map[string]kissio.NamespaceCapability{
			Capability: func(*kissio.Namespace) any { return p },
		},
		Socket: map[string]kissio.SocketCapability{
			Capability: func(*kissio.Socket) any { return newMembership() },
		},
		Router: router,
	}
}

// CreateRoom returns the room id, creating it if needed.
func (p *Plugin) CreateRoom(id string) *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room(id)
}

func (p *Plugin) room(id string) *Room {
	r, ok := p.rooms[id]
	if !ok {
		r = &Room{id: id, plugin: p, members: make(map[string]struct{})}
		p.rooms[id] = r
	}
	return r
}

// Room looks up an existing room.
func (p *Plugin) Room(id string) (*Room, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.rooms[id]
	return r, ok
}

// Rooms returns the ids of the rooms with at least one member, sorted.
func (p *Plugin) Rooms() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.rooms))
	for id, r := range p.rooms {
		if r.Len() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Join adds s to the room id. Joining twice is a no-op. A socket that is
// disconnected, or whose rooms were already released, cannot join.
func (p *Plugin) Join(s *kissio.Socket, id string) (*Room, error) {
	if s.Disconnected() {
		return nil, kissio.ErrNotConnected
	}

	p.mu.Lock()
	r := p.room(id)
	r.add(s.ID())
	p.mu.Unlock()

	if m := MembershipOf(s); m != nil && !m.add(id) {
		p.mu.Lock()
		p.leave(s.ID(), id)
		p.mu.Unlock()
		return nil, kissio.ErrNotConnected
	}
	return r, nil
}

// Leave removes s from the room id. Rooms left empty are dropped.
func (p *Plugin) Leave(s *kissio.Socket, id string) {
	p.mu.Lock()
	p.leave(s.ID(), id)
	p.mu.Unlock()

	if m := MembershipOf(s); m != nil {
		m.remove(id)
	}
}

func (p *Plugin) leave(socketID, id string) {
	r, ok := p.rooms[id]
	if !ok {
		return
	}
	if r.remove(socketID) == 0 {
		delete(p.rooms, id)
	}
}

// LeaveAll removes s from every room it joined.
func (p *Plugin) LeaveAll(s *kissio.Socket) {
	if m := MembershipOf(s); m != nil {
		p.leaveAll(s.ID(), m.reset())
	}
}

// release drops every room of s and refuses its later joins.
func (p *Plugin) release(s *kissio.Socket) {
	if m := MembershipOf(s); m != nil {
		p.leaveAll(s.ID(), m.release())
	}
}

func (p *Plugin) leaveAll(socketID string, ids []string) {
	p.mu.Lock()
	for _, id := range ids {
		p.leave(socketID, id)
	}
	p.mu.Unlock()
}

// To targets the room id on behalf of s, excluding s itself.
func (p *Plugin) To(s *kissio.Socket, id string) *Target {
	return p.CreateRoom(id).Except(s.ID())
}

// In is an alias of To.
func (p *Plugin) In(s *kissio.Socket, id string) *Target {
	return p.To(s, id)
}

// From returns the room plugin plugged into the namespace of s.
func From(s *kissio.Socket) (*Plugin, error) {
	return FromNamespace(s.Namespace())
}

// FromNamespace returns the room plugin plugged into ns.
func FromNamespace(ns *kissio.Namespace) (*Plugin, error) {
	v, ok := ns.Capability(Capability)
	if !ok {
		return nil, ErrNotPlugged
	}
	p, ok := v.(*Plugin)
	if !ok {
		return nil, ErrNotPlugged
	}
	return p, nil
}

// Join adds s to the room id of its namespace.
func Join(s *kissio.Socket, id string) error {
	p, err := From(s)
	if err != nil {
		return err
	}
	_, err = p.Join(s, id)
	return err
}

// Leave removes s from the room id of its namespace.
func Leave(s *kissio.Socket, id string) error {
	p, err := From(s)
	if err != nil {
		return err
	}
	p.Leave(s, id)
	return nil
}

// To targets the room id of the namespace of s, excluding s.
func To(s *kissio.Socket, id string) (*Target, error) {
	p, err := From(s)
	if err != nil {
		return nil, err
	}
	return p.To(s, id), nil
}
