/*
Package model defines the typed network elements and the plumbing they share:
identity, graph adjacency, network membership and result freshness. Element
kinds with substantial equations (lines, transformers, switches, loads,
sources) live in subpackages and embed Base.
*/
package model

import (
	"log"

	"github.com/google/uuid"
)

// Owner is the network-side view an element holds of its owning network.
// The back reference is used for lookup and validation only; it never
// implies ownership of the element's lifetime.
type Owner interface {
	PID() uuid.UUID
	// Version is bumped on every mutation of the network or its members.
	Version() uint64
	// Mutated bumps the version, invalidating all cached results.
	Mutated()
	// Register adds a newly claimed element to the owner's indexes.
	Register(Element) error
	// Deregister drops a detached element from the owner's indexes.
	Deregister(Element)
}

// Element is implemented by every network element. The unexported methods
// are provided by the embedded Base, which keeps the set of element kinds
// closed: equation assembly can switch over concrete types exhaustively.
type Element interface {
	ID() string
	PID() uuid.UUID
	Network() Owner
	Links() []Element

	bind(Owner) error
	unbind()
	unlink(Element)
	addLink(Element)
	markSolved(uint64)
	solvedVersion() uint64
}

// Base carries the shared element state. Embed it by pointer-receiver value
// in concrete element types.
type Base struct {
	id       string
	pid      uuid.UUID
	net      Owner
	links    []Element
	solvedAt uint64
}

// NewBase validates the element id and mints the element's PID.
func NewBase(id string) (Base, error) {
	if id == "" {
		return Base{}, structuralf("element id must not be empty")
	}
	pid, err := uuid.NewRandom()
	if err != nil {
		return Base{}, err
	}
	return Base{id: id, pid: pid}, nil
}

// ID returns the user-assigned element id.
func (b *Base) ID() string { return b.id }

// PID returns the element's process id.
func (b *Base) PID() uuid.UUID { return b.pid }

// Network returns the owning network, or nil for a free-standing element.
func (b *Base) Network() Owner { return b.net }

// Links returns the element's graph adjacency.
func (b *Base) Links() []Element { return b.links }

// Invalidate marks the owning network's cached results stale. Element
// mutators must call it.
func (b *Base) Invalidate() {
	if b.net != nil {
		b.net.Mutated()
	}
}

func (b *Base) bind(o Owner) error {
	if b.net != nil && b.net.PID() != o.PID() {
		return structuralf("element %q already belongs to another network", b.id)
	}
	b.net = o
	return nil
}

func (b *Base) unbind() { b.net = nil }

func (b *Base) addLink(e Element) { b.links = append(b.links, e) }

func (b *Base) unlink(e Element) {
	for i, l := range b.links {
		if l == e {
			b.links = append(b.links[:i], b.links[i+1:]...)
			return
		}
	}
}

func (b *Base) markSolved(v uint64) { b.solvedAt = v }

func (b *Base) solvedVersion() uint64 { return b.solvedAt }

// Connect records a bidirectional adjacency between two elements.
func Connect(a, b Element) {
	a.addLink(b)
	b.addLink(a)
}

// Unlink removes the adjacency between two elements in both directions.
func Unlink(a, b Element) {
	a.unlink(b)
	b.unlink(a)
}

// Bind claims e for the owner o. Claiming an element already owned by a
// different network is a structural error; re-claiming for the same network
// is a no-op.
func Bind(e Element, o Owner) error {
	return e.bind(o)
}

// Unbind releases e from its owning network.
func Unbind(e Element) { e.unbind() }

// MarkSolved stamps e's cached results with the owner's current version.
func MarkSolved(e Element) {
	if e.Network() != nil {
		e.markSolved(e.Network().Version())
	}
}

// CheckFresh reports whether e's cached results are still valid. A stale
// read logs a warning and returns ErrResultsStale; callers still receive the
// last-known values alongside it.
func CheckFresh(e Element) error {
	o := e.Network()
	if o == nil || e.solvedVersion() != o.Version() {
		log.Printf("[Model] stale results read on element %q", e.ID())
		return ErrResultsStale
	}
	return nil
}

// Detach removes e, and only e, from its network and from the element
// graph, invalidating cached results of everything that referenced it.
func Detach(e Element) {
	if o := e.Network(); o != nil {
		o.Deregister(e)
		o.Mutated()
		e.unbind()
	}
	for _, l := range append([]Element(nil), e.Links()...) {
		Unlink(e, l)
	}
}

// Propagate claims every element reachable from seed for the owner o,
// breadth first. It is the single traversal used both for network
// construction and for membership propagation when a branch joins a
// free-standing subgraph to a live network.
func Propagate(seed Element, o Owner) error {
	visited := map[uuid.UUID]bool{}
	queue := []Element{seed}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if visited[e.PID()] {
			continue
		}
		visited[e.PID()] = true
		already := e.Network() != nil && e.Network().PID() == o.PID()
		if err := Bind(e, o); err != nil {
			return err
		}
		if !already {
			if err := o.Register(e); err != nil {
				return err
			}
		}
		queue = append(queue, e.Links()...)
	}
	return nil
}
