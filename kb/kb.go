// Package kb is the platform directory of a simulation: which satellites
// exist, how they move, and the orbital frame each one shares with its
// terminals.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/signalsfoundry/isl-simulator/mobility"
	"github.com/signalsfoundry/isl-simulator/model"
	"github.com/signalsfoundry/isl-simulator/orient"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPlatformAdded EventType = iota
	EventPlatformUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	Platform model.PlatformDefinition
}

var (
	ErrDuplicatePlatform = errors.New("kb: platform already exists")
	ErrDuplicateSatID    = errors.New("kb: satellite ID already in use")
	ErrPlatformNotFound  = errors.New("kb: platform not found")
	ErrDuplicateNode     = errors.New("kb: node already exists")
	ErrNoMobility        = errors.New("kb: platform needs a mobility model")
)

// Platform is a registered satellite. Its orbital frame is created once and
// shared by reference with every terminal mounted on it.
type Platform struct {
	def   model.PlatformDefinition
	mob   mobility.Model
	frame *orient.OrbitalFrame
}

func (p *Platform) ID() string                           { return p.def.ID }
func (p *Platform) SatID() uint32                        { return p.def.SatID }
func (p *Platform) Definition() model.PlatformDefinition { return p.def }
func (p *Platform) Mobility() mobility.Model             { return p.mob }
func (p *Platform) Frame() *orient.OrbitalFrame          { return p.frame }

// RefreshFrame recomputes the orbital frame from the current position and
// velocity.
func (p *Platform) RefreshFrame() error {
	if err := p.frame.Update(p.mob.Position(), p.mob.Velocity()); err != nil {
		return fmt.Errorf("platform %q: %w", p.def.ID, err)
	}
	return nil
}

// KnowledgeBase is an in-memory, thread-safe store for platforms and nodes.
type KnowledgeBase struct {
	mu sync.RWMutex

	platforms map[string]*Platform
	bySat     map[uint32]*Platform
	nodes     map[string]*model.NetworkNode

	subs map[int]func(Event)
	next int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		platforms: make(map[string]*Platform),
		bySat:     make(map[uint32]*Platform),
		nodes:     make(map[string]*model.NetworkNode),
		subs:      make(map[int]func(Event)),
	}
}

// AddPlatform registers a platform moving according to mob. IDs and
// satellite IDs must be unique.
func (kb *KnowledgeBase) AddPlatform(def model.PlatformDefinition, mob mobility.Model) (*Platform, error) {
	if mob == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoMobility, def.ID)
	}
	kb.mu.Lock()
	if _, exists := kb.platforms[def.ID]; exists {
		kb.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePlatform, def.ID)
	}
	if _, exists := kb.bySat[def.SatID]; exists {
		kb.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrDuplicateSatID, def.SatID)
	}
	p := &Platform{def: def, mob: mob, frame: &orient.OrbitalFrame{}}
	kb.platforms[def.ID] = p
	kb.bySat[def.SatID] = p
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventPlatformAdded, Platform: def})
	return p, nil
}

// AddNetworkNode adds a network node. It returns an error if the ID already
// exists or if the referenced platform does not exist.
func (kb *KnowledgeBase) AddNetworkNode(n *model.NetworkNode) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
	}
	if _, ok := kb.platforms[n.PlatformID]; !ok {
		return fmt.Errorf("%w: %q for node %q", ErrPlatformNotFound, n.PlatformID, n.ID)
	}
	kb.nodes[n.ID] = n
	return nil
}

// GetPlatform returns the platform with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetPlatform(id string) *Platform {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.platforms[id]
}

// PlatformBySat returns the platform with the given satellite ID, or nil.
func (kb *KnowledgeBase) PlatformBySat(sat uint32) *Platform {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.bySat[sat]
}

// GetNetworkNode returns the network node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNetworkNode(id string) *model.NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// ListPlatforms returns all platforms ordered by satellite ID.
func (kb *KnowledgeBase) ListPlatforms() []*Platform {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*Platform, 0, len(kb.platforms))
	for _, p := range kb.platforms {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].def.SatID < res[j].def.SatID })
	return res
}

// ListNetworkNodes returns all network nodes ordered by ID.
func (kb *KnowledgeBase) ListNetworkNodes() []*model.NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.NetworkNode, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// SatsInOrbit returns the satellite IDs of one orbit, ascending.
func (kb *KnowledgeBase) SatsInOrbit(constellation, orbit uint32) []uint32 {
	return kb.collect(func(d model.PlatformDefinition) bool {
		return d.ConstellationID == constellation && d.OrbitID == orbit
	})
}

// SatsInConstellation returns the satellite IDs of one constellation, ascending.
func (kb *KnowledgeBase) SatsInConstellation(constellation uint32) []uint32 {
	return kb.collect(func(d model.PlatformDefinition) bool {
		return d.ConstellationID == constellation
	})
}

func (kb *KnowledgeBase) collect(match func(model.PlatformDefinition) bool) []uint32 {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var ids []uint32
	for sat, p := range kb.bySat {
		if match(p.def) {
			ids = append(ids, sat)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RefreshFrames updates every platform's orbital frame and notifies
// subscribers with the new position. Platforms that cannot be updated are
// reported together.
func (kb *KnowledgeBase) RefreshFrames() error {
	platforms := kb.ListPlatforms()

	var result *multierror.Error
	events := make([]Event, 0, len(platforms))
	for _, p := range platforms {
		if err := p.RefreshFrame(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		def := p.def
		pos := p.mob.Position()
		def.Coordinates = model.Motion{X: pos.X, Y: pos.Y, Z: pos.Z}
		events = append(events, Event{Type: EventPlatformUpdated, Platform: def})
	}

	kb.mu.RLock()
	subs := kb.subscribersLocked()
	kb.mu.RUnlock()
	for _, ev := range events {
		notify(subs, ev)
	}
	return result.ErrorOrNil()
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
