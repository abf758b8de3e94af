/*
Package network holds the ElectricalNetwork aggregate: traversal-based
assembly from a seed element, structural validation, the solve lifecycle and
the model/result codecs.
*/
package network

import (
	"context"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/model/line"
	"github.com/phasorlab/gridflow/internal/pkg/model/load"
	"github.com/phasorlab/gridflow/internal/pkg/model/source"
	"github.com/phasorlab/gridflow/internal/pkg/model/switchgear"
	"github.com/phasorlab/gridflow/internal/pkg/model/transformer"
	"github.com/phasorlab/gridflow/internal/pkg/solver"
)

// Network is the aggregate root owning every element reachable from its
// seed. An element belongs to at most one network at a time.
type Network struct {
	pid     uuid.UUID
	version uint64

	buses             map[string]*model.Bus
	grounds           map[string]*model.Ground
	potentialRefs     map[string]*model.PotentialRef
	groundConnections map[string]*model.GroundConnection
	shortCircuits     map[string]*model.ShortCircuit
	lines             map[string]*line.Line
	transformers      map[string]*transformer.Transformer
	switches          map[string]*switchgear.Switch
	loads             map[string]*load.Load
	sources           map[string]*source.VoltageSource

	lineParams map[string]*line.Parameters
	tfParams   map[string]*transformer.Parameters

	status     solver.Status
	iterations int
	residual   float64
}

func newNetwork() *Network {
	pid, _ := uuid.NewRandom()
	return &Network{
		pid:               pid,
		buses:             map[string]*model.Bus{},
		grounds:           map[string]*model.Ground{},
		potentialRefs:     map[string]*model.PotentialRef{},
		groundConnections: map[string]*model.GroundConnection{},
		shortCircuits:     map[string]*model.ShortCircuit{},
		lines:             map[string]*line.Line{},
		transformers:      map[string]*transformer.Transformer{},
		switches:          map[string]*switchgear.Switch{},
		loads:             map[string]*load.Load{},
		sources:           map[string]*source.VoltageSource{},
		lineParams:        map[string]*line.Parameters{},
		tfParams:          map[string]*transformer.Parameters{},
	}
}

// FromElement assembles a network from every element reachable from seed.
// It fails if any discovered element already belongs to a different network;
// called on an element of a fully formed network it is an idempotent no-op
// returning that network.
func FromElement(seed model.Element) (*Network, error) {
	if o := seed.Network(); o != nil {
		n, ok := o.(*Network)
		if !ok {
			return nil, model.Structuralf("element %q is owned by a foreign aggregate", seed.ID())
		}
		if err := model.Propagate(seed, n); err != nil {
			return nil, err
		}
		return n, n.Validate()
	}
	n := newNetwork()
	if err := model.Propagate(seed, n); err != nil {
		return nil, err
	}
	return n, n.Validate()
}

// PID returns the network's process id.
func (n *Network) PID() uuid.UUID { return n.pid }

// Version returns the mutation counter cached results are stamped against.
func (n *Network) Version() uint64 { return n.version }

// Mutated bumps the version, staling every cached result.
func (n *Network) Mutated() { n.version++ }

// Register indexes a newly claimed element. Implements model.Owner.
func (n *Network) Register(e model.Element) error {
	switch el := e.(type) {
	case *model.Bus:
		if prev, ok := n.buses[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate bus id %q", el.ID())
		}
		n.buses[el.ID()] = el
	case *model.Ground:
		if prev, ok := n.grounds[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate ground id %q", el.ID())
		}
		n.grounds[el.ID()] = el
	case *model.PotentialRef:
		if prev, ok := n.potentialRefs[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate potential ref id %q", el.ID())
		}
		n.potentialRefs[el.ID()] = el
	case *model.GroundConnection:
		if prev, ok := n.groundConnections[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate ground connection id %q", el.ID())
		}
		n.groundConnections[el.ID()] = el
	case *model.ShortCircuit:
		if prev, ok := n.shortCircuits[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate short circuit id %q", el.ID())
		}
		n.shortCircuits[el.ID()] = el
	case *line.Line:
		if prev, ok := n.lines[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate line id %q", el.ID())
		}
		n.lines[el.ID()] = el
		n.lineParams[el.Parameters().ID()] = el.Parameters()
	case *transformer.Transformer:
		if prev, ok := n.transformers[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate transformer id %q", el.ID())
		}
		n.transformers[el.ID()] = el
		n.tfParams[el.Parameters().ID()] = el.Parameters()
	case *switchgear.Switch:
		if prev, ok := n.switches[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate switch id %q", el.ID())
		}
		n.switches[el.ID()] = el
	case *load.Load:
		if prev, ok := n.loads[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate load id %q", el.ID())
		}
		n.loads[el.ID()] = el
	case *source.VoltageSource:
		if prev, ok := n.sources[el.ID()]; ok && prev.PID() != el.PID() {
			return model.Structuralf("duplicate source id %q", el.ID())
		}
		n.sources[el.ID()] = el
	default:
		return model.Structuralf("unknown element kind for %q", e.ID())
	}
	n.version++
	return nil
}

// Deregister drops a detached element from the indexes. Implements
// model.Owner.
func (n *Network) Deregister(e model.Element) {
	switch el := e.(type) {
	case *model.Bus:
		delete(n.buses, el.ID())
	case *model.Ground:
		delete(n.grounds, el.ID())
	case *model.PotentialRef:
		delete(n.potentialRefs, el.ID())
	case *model.GroundConnection:
		delete(n.groundConnections, el.ID())
	case *model.ShortCircuit:
		delete(n.shortCircuits, el.ID())
	case *line.Line:
		delete(n.lines, el.ID())
	case *transformer.Transformer:
		delete(n.transformers, el.ID())
	case *switchgear.Switch:
		delete(n.switches, el.ID())
	case *load.Load:
		delete(n.loads, el.ID())
	case *source.VoltageSource:
		delete(n.sources, el.ID())
	}
}

// Bus returns a member bus by id, nil when absent.
func (n *Network) Bus(id string) *model.Bus { return n.buses[id] }

// Ground returns a member ground by id, nil when absent.
func (n *Network) Ground(id string) *model.Ground { return n.grounds[id] }

// Line returns a member line by id, nil when absent.
func (n *Network) Line(id string) *line.Line { return n.lines[id] }

// Transformer returns a member transformer by id, nil when absent.
func (n *Network) Transformer(id string) *transformer.Transformer { return n.transformers[id] }

// Switch returns a member switch by id, nil when absent.
func (n *Network) Switch(id string) *switchgear.Switch { return n.switches[id] }

// Load returns a member load by id, nil when absent.
func (n *Network) Load(id string) *load.Load { return n.loads[id] }

// Source returns a member source by id, nil when absent.
func (n *Network) Source(id string) *source.VoltageSource { return n.sources[id] }

// LoadCount returns the number of member loads.
func (n *Network) LoadCount() int { return len(n.loads) }

// MemberIDs returns the sorted ids of every member element.
func (n *Network) MemberIDs() []string {
	var ids []string
	for id := range n.buses {
		ids = append(ids, id)
	}
	for id := range n.grounds {
		ids = append(ids, id)
	}
	for id := range n.potentialRefs {
		ids = append(ids, id)
	}
	for id := range n.groundConnections {
		ids = append(ids, id)
	}
	for id := range n.shortCircuits {
		ids = append(ids, id)
	}
	for id := range n.lines {
		ids = append(ids, id)
	}
	for id := range n.transformers {
		ids = append(ids, id)
	}
	for id := range n.switches {
		ids = append(ids, id)
	}
	for id := range n.loads {
		ids = append(ids, id)
	}
	for id := range n.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastSolve returns the metadata of the most recent solve.
func (n *Network) LastSolve() (status solver.Status, iterations int, residual float64) {
	return n.status, n.iterations, n.residual
}

// Solve serializes the network, calls the external solver and, on success,
// distributes the returned potentials and refreshes every element's cached
// results. Solver failures, including transport errors, come back in the
// report's status rather than as an error.
func (n *Network) Solve(ctx context.Context, sv solver.Solver) (*solver.Response, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	doc, err := n.MarshalModel()
	if err != nil {
		return nil, err
	}
	resp, err := sv.Solve(ctx, &solver.Request{Network: doc})
	if err != nil {
		log.Printf("[Network] solve boundary failure: %v", err)
		n.status = solver.Failure
		return &solver.Response{Status: solver.Failure, Message: err.Error()}, nil
	}
	n.status = resp.Status
	n.iterations = resp.Iterations
	n.residual = resp.Residual
	if resp.Status != solver.Success {
		return resp, nil
	}
	if err := n.distribute(resp.Potentials); err != nil {
		return nil, err
	}
	if err := n.refresh(); err != nil {
		return nil, err
	}
	return resp, nil
}

// distribute writes solver potentials onto buses and grounds by id. The
// response is validated in full before the first write, so a rejected
// response leaves every element untouched.
func (n *Network) distribute(potentials map[string][][2]float64) error {
	for id, b := range n.buses {
		vals, ok := potentials[id]
		if !ok {
			return model.Structuralf("solver response misses potentials for bus %q", id)
		}
		if len(vals) != len(b.Phases()) {
			return model.Structuralf("bus %q: got %d potentials, want %d", id, len(vals), len(b.Phases()))
		}
	}
	for id := range n.grounds {
		if vals, ok := potentials[id]; ok && len(vals) != 1 {
			return model.Structuralf("ground %q: got %d potentials, want 1", id, len(vals))
		}
	}
	for id, vals := range potentials {
		if b, ok := n.buses[id]; ok {
			v := make([]complex128, len(vals))
			for i, p := range vals {
				v[i] = complex(p[0], p[1])
			}
			if err := b.SetPotentials(v); err != nil {
				return err
			}
			model.MarkSolved(b)
			continue
		}
		if g, ok := n.grounds[id]; ok {
			g.SetPotential(complex(vals[0][0], vals[0][1]))
			model.MarkSolved(g)
			continue
		}
		// Forward compatible: ignore ids the model does not know.
	}
	return nil
}

// refresh recovers every element's results from the distributed potentials.
func (n *Network) refresh() error {
	for _, l := range n.lines {
		if err := l.Refresh(); err != nil {
			return err
		}
	}
	for _, t := range n.transformers {
		if err := t.Refresh(); err != nil {
			return err
		}
	}
	for _, ld := range n.loads {
		if err := ld.Refresh(); err != nil {
			return err
		}
	}
	for _, gc := range n.groundConnections {
		if err := n.refreshGroundConnection(gc); err != nil {
			return err
		}
	}
	n.refreshByBalance()
	return nil
}

// refreshGroundConnection recovers the connection current from the potential
// difference across its impedance; bolted connections get it from the
// closing KCL below instead.
func (n *Network) refreshGroundConnection(gc *model.GroundConnection) error {
	el, ph := gc.Target()
	b, ok := el.(*model.Bus)
	if !ok {
		gc.SetCurrent(0)
		model.MarkSolved(gc)
		return nil
	}
	v, err := b.Potential(ph)
	if err != nil {
		return err
	}
	vg, err := gc.Ground().ResPotential()
	if err != nil {
		return err
	}
	if z := gc.Impedance(); z != 0 {
		gc.SetCurrent((v - vg) / z)
	} else {
		gc.SetCurrent(0)
	}
	model.MarkSolved(gc)
	return nil
}

// refreshByBalance closes the per-bus current balance to recover switch and
// source currents: at a bus whose only unknown member is a single switch or
// source, that member's current is the negative sum of all known injections.
func (n *Network) refreshByBalance() {
	for _, s := range n.sources {
		b := s.Bus()
		sum := n.knownCurrents(b, s)
		if sum == nil {
			continue
		}
		out := make([]complex128, len(s.Phases()))
		for i := 0; i < len(s.Phases()); i++ {
			out[i] = -sum[b.Phases().Index(s.Phases()[i])]
		}
		s.SetCurrents(out)
	}
	for _, sw := range n.switches {
		b1, _ := sw.Buses()
		sum := n.knownCurrents(b1, sw)
		if sum == nil {
			continue
		}
		out := make([]complex128, len(sw.Phases()))
		for i := 0; i < len(sw.Phases()); i++ {
			out[i] = -sum[b1.Phases().Index(sw.Phases()[i])]
		}
		sw.SetCurrents(out)
	}
}

// knownCurrents sums the per-phase currents every member other than skip
// draws from bus b, or nil when another member's current is unknown.
func (n *Network) knownCurrents(b *model.Bus, skip model.Element) []complex128 {
	sum := make([]complex128, len(b.Phases()))
	for _, e := range b.Links() {
		if e.PID() == skip.PID() {
			continue
		}
		switch el := e.(type) {
		case *line.Line:
			i1, i2, err := el.ResCurrents()
			if err != nil && i1 == nil {
				return nil
			}
			b1, _ := el.Buses()
			cur := i1
			if b1.PID() != b.PID() {
				cur = i2
			}
			for k, ph := range []byte(el.Phases()) {
				sum[b.Phases().Index(ph)] += cur[k]
			}
		case *transformer.Transformer:
			i1, i2, err := el.ResCurrents()
			if err != nil && i1 == nil {
				return nil
			}
			b1, _ := el.Buses()
			ph1, ph2 := el.Phases()
			cur, phs := i1, ph1
			if b1.PID() != b.PID() {
				cur, phs = i2, ph2
			}
			for k, ph := range []byte(phs) {
				sum[b.Phases().Index(ph)] += cur[k]
			}
		case *load.Load:
			cur, err := el.ResCurrents()
			if err != nil && cur == nil {
				return nil
			}
			for k, ph := range []byte(el.Phases()) {
				sum[b.Phases().Index(ph)] += cur[k]
			}
		case *model.GroundConnection:
			cur, err := el.ResCurrent()
			if err != nil {
				return nil
			}
			_, ph := el.Target()
			sum[b.Phases().Index(ph)] += cur
		case *model.PotentialRef, *model.ShortCircuit:
			// No series current contribution to the phase balance here.
		case *switchgear.Switch, *source.VoltageSource:
			return nil // a second unknown on this bus, cannot close the balance
		}
	}
	return sum
}
