package packet

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrUnknownPacket    = errors.New("packet: unknown packet id")
	ErrUnregisteredType = errors.New("packet: type not registered")
	ErrNotAvailable     = errors.New("packet: not available at version")
)

// Mapping assigns a packet id from a version onward, until the next mapping.
type Mapping struct {
	ID    int32
	Since Version
}

func Map(id int32, since Version) Mapping {
	return Mapping{ID: id, Since: since}
}

type route struct {
	state State
	dir   Direction
}

type entry struct {
	name     string
	newFn    func() Packet
	mappings []Mapping
}

func (e *entry) idAt(v Version) (int32, bool) {
	id, ok := int32(0), false
	for _, m := range e.mappings {
		if m.Since > v {
			break
		}
		id, ok = m.ID, true
	}
	return id, ok
}

// Registry resolves packet ids per (state, direction, version).
type Registry struct {
	mu      sync.RWMutex
	byRoute map[route][]*entry
	byType  map[route]map[reflect.Type]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		byRoute: make(map[route][]*entry),
		byType:  make(map[route]map[reflect.Type]*entry),
	}
}

// Register binds a packet type to ids in one state and direction. It panics on
// an empty mapping list or a duplicate type, both wiring mistakes.
func (r *Registry) Register(state State, dir Direction, newFn func() Packet, mappings ...Mapping) {
	if len(mappings) == 0 {
		panic("packet: register without mappings")
	}
	sorted := append([]Mapping(nil), mappings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Since < sorted[j].Since })

	sample := newFn()
	typ := reflect.TypeOf(sample)
	rt := route{state: state, dir: dir}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byType[rt][typ]; dup {
		panic(fmt.Sprintf("packet: %s registered twice for %s/%s", typ, state, dir))
	}
	name := typ.String()
	if typ.Kind() == reflect.Pointer {
		name = typ.Elem().Name()
	}
	e := &entry{name: name, newFn: newFn, mappings: sorted}
	r.byRoute[rt] = append(r.byRoute[rt], e)
	if r.byType[rt] == nil {
		r.byType[rt] = make(map[reflect.Type]*entry)
	}
	r.byType[rt][typ] = e
}

// New returns an empty packet for id, or false when the id carries no typed
// packet at (state, dir, v). Unknown ids are forwarded untouched by callers.
func (r *Registry) New(state State, dir Direction, v Version, id int32) (Packet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byRoute[route{state: state, dir: dir}] {
		if got, ok := e.idAt(v); ok && got == id {
			return e.newFn(), true
		}
	}
	return nil, false
}

// ID returns the wire id of p at (state, dir, v).
func (r *Registry) ID(state State, dir Direction, v Version, p Packet) (int32, error) {
	r.mu.RLock()
	e, ok := r.byType[route{state: state, dir: dir}][reflect.TypeOf(p)]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %T in %s/%s", ErrUnregisteredType, p, state, dir)
	}
	id, ok := e.idAt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s at %s", ErrNotAvailable, e.name, v)
	}
	return id, nil
}

// Decode builds the packet for id and fills it from payload.
func (r *Registry) Decode(state State, dir Direction, v Version, id int32, payload []byte) (Packet, error) {
	p, ok := r.New(state, dir, v, id)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x in %s/%s at %s", ErrUnknownPacket, id, state, dir, v)
	}
	if err := DecodePayload(p, payload, dir, v); err != nil {
		return nil, err
	}
	return p, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry holding every packet this module knows.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		r.Register(StateHandshake, Serverbound, func() Packet { return &Handshake{} }, Map(0x00, MinimumVersion))

		r.Register(StateLogin, Serverbound, func() Packet { return &ServerLogin{} }, Map(0x00, MinimumVersion))
		r.Register(StateLogin, Clientbound, func() Packet { return &SetCompression{} }, Map(0x03, MinimumVersion))
		r.Register(StateLogin, Serverbound, func() Packet { return &LoginAcknowledged{} }, Map(0x03, V1_20_2))

		r.Register(StateLogin, Clientbound, func() Packet { return &CookieRequest{} }, Map(0x05, V1_20_5))
		r.Register(StateConfig, Clientbound, func() Packet { return &CookieRequest{} }, Map(0x00, V1_20_5))
		r.Register(StatePlay, Clientbound, func() Packet { return &CookieRequest{} }, Map(0x16, V1_20_5))

		r.Register(StateLogin, Serverbound, func() Packet { return &CookieResponse{} }, Map(0x04, V1_20_5))
		r.Register(StateConfig, Serverbound, func() Packet { return &CookieResponse{} }, Map(0x01, V1_20_5))
		r.Register(StatePlay, Serverbound, func() Packet { return &CookieResponse{} }, Map(0x11, V1_20_5))
		defaultRegistry = r
	})
	return defaultRegistry
}
