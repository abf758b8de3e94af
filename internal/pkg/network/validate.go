package network

import (
	"sort"
	"strings"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/model/line"
	"github.com/phasorlab/gridflow/internal/pkg/model/switchgear"
)

// Validate checks the structural invariants of the assembled network:
// exactly one potential reference per galvanically isolated section, the
// load/short-circuit exclusion, and short-circuit arity. Always called
// before a solve; also usable directly after hand-assembly.
func (n *Network) Validate() error {
	if err := n.validateRefs(); err != nil {
		return err
	}
	if err := n.validateShortCircuits(); err != nil {
		return err
	}
	return nil
}

// sections partitions the buses into galvanically isolated sections:
// maximal subgraphs connected through lines and switches. Transformer
// windings are the section boundaries.
func (n *Network) sections() map[string]int {
	section := map[string]int{}
	next := 0
	for _, b := range n.sortedBusIDs() {
		if _, seen := section[b]; seen {
			continue
		}
		queue := []string{b}
		section[b] = next
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, other := range n.galvanicNeighbors(cur) {
				if _, seen := section[other]; !seen {
					section[other] = next
					queue = append(queue, other)
				}
			}
		}
		next++
	}
	return section
}

func (n *Network) sortedBusIDs() []string {
	ids := make([]string, 0, len(n.buses))
	for id := range n.buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (n *Network) galvanicNeighbors(busID string) []string {
	var out []string
	b := n.buses[busID]
	for _, e := range b.Links() {
		switch el := e.(type) {
		case *line.Line:
			b1, b2 := el.Buses()
			out = append(out, otherBus(b1, b2, b))
		case *switchgear.Switch:
			b1, b2 := el.Buses()
			out = append(out, otherBus(b1, b2, b))
		}
	}
	return out
}

func otherBus(b1, b2, self *model.Bus) string {
	if b1.PID() == self.PID() {
		return b2.ID()
	}
	return b1.ID()
}

// validateRefs enforces exactly one potential reference per section.
func (n *Network) validateRefs() error {
	section := n.sections()
	count := make([]int, len(n.buses))
	refIDs := make(map[int][]string)

	for id, pr := range n.potentialRefs {
		var secs []int
		if b, _ := pr.BusTarget(); b != nil {
			secs = []int{section[b.ID()]}
		} else if g := pr.GroundTarget(); g != nil {
			secs = n.groundSections(g, section)
			if len(secs) == 0 {
				return model.Structuralf("potential ref %q targets ground %q with no attachment to any bus", id, g.ID())
			}
		}
		for _, s := range secs {
			count[s]++
			refIDs[s] = append(refIDs[s], id)
		}
	}

	sectionsSeen := 0
	for _, s := range section {
		if s+1 > sectionsSeen {
			sectionsSeen = s + 1
		}
	}
	for s := 0; s < sectionsSeen; s++ {
		switch {
		case count[s] == 0:
			return model.Structuralf("isolated section with buses [%s] has no potential reference",
				strings.Join(n.sectionBuses(section, s), ", "))
		case count[s] > 1:
			sort.Strings(refIDs[s])
			return model.Structuralf("isolated section with buses [%s] has %d potential references: %s",
				strings.Join(n.sectionBuses(section, s), ", "), count[s], strings.Join(refIDs[s], ", "))
		}
	}
	return nil
}

// groundSections returns the sections a ground touches through its lines,
// connections and short circuits.
func (n *Network) groundSections(g *model.Ground, section map[string]int) []int {
	seen := map[int]bool{}
	var out []int
	add := func(busID string) {
		s, ok := section[busID]
		if ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, e := range g.Links() {
		switch el := e.(type) {
		case *line.Line:
			b1, b2 := el.Buses()
			add(b1.ID())
			add(b2.ID())
		case *model.GroundConnection:
			if b, ok := targetBus(el); ok {
				add(b.ID())
			}
		case *model.ShortCircuit:
			add(el.Bus().ID())
		}
	}
	sort.Ints(out)
	return out
}

func targetBus(gc *model.GroundConnection) (*model.Bus, bool) {
	el, _ := gc.Target()
	b, ok := el.(*model.Bus)
	return b, ok
}

func (n *Network) sectionBuses(section map[string]int, s int) []string {
	var out []string
	for id, sec := range section {
		if sec == s {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// validateShortCircuits re-checks arity and the load exclusion across the
// whole network. Attach-time checks cover both orders already; this catches
// graphs assembled from deserialized parts.
func (n *Network) validateShortCircuits() error {
	for id, sc := range n.shortCircuits {
		if len(sc.Phases()) < 2 && sc.Ground() == nil {
			return model.Structuralf("short circuit %q on bus %q needs at least two phases or a ground", id, sc.Bus().ID())
		}
		for _, ld := range n.loads {
			if ld.Bus().PID() != sc.Bus().PID() {
				continue
			}
			if overlap := ld.Phases().Intersect(sc.Phases()); overlap != "" {
				return model.Structuralf("load %q and short circuit %q overlap on phases %q of bus %q",
					ld.ID(), id, string(overlap), sc.Bus().ID())
			}
		}
	}
	return nil
}
