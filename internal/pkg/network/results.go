package network

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/solver"
)

// ResultsVersion is the serialized results schema version.
const ResultsVersion = 1

type busResultDoc struct {
	ID         string `json:"id"`
	Potentials []cplx `json:"potentials"`
}

type groundResultDoc struct {
	ID        string `json:"id"`
	Potential cplx   `json:"potential"`
}

type branchResultDoc struct {
	ID            string `json:"id"`
	Currents1     []cplx `json:"currents1"`
	Currents2     []cplx `json:"currents2"`
	GroundCurrent *cplx  `json:"ground_current,omitempty"`
}

type loadResultDoc struct {
	ID       string `json:"id"`
	Currents []cplx `json:"currents"`
	Powers   []cplx `json:"powers"`
}

type sourceResultDoc struct {
	ID       string `json:"id"`
	Currents []cplx `json:"currents"`
}

type resultsDoc struct {
	Version    int               `json:"version"`
	Status     solver.Status     `json:"status"`
	Iterations int               `json:"iterations"`
	Residual   float64           `json:"residual"`
	Buses      []busResultDoc    `json:"buses"`
	Grounds    []groundResultDoc `json:"grounds"`
	Lines      []branchResultDoc `json:"lines"`
	Trans      []branchResultDoc `json:"transformers"`
	Switches   []branchResultDoc `json:"switches"`
	Loads      []loadResultDoc   `json:"loads"`
	Sources    []sourceResultDoc `json:"sources"`
}

// MarshalResults serializes the last solve's values, addressable by element
// id. Fails when no successful solve has run or results have gone stale.
func (n *Network) MarshalResults() ([]byte, error) {
	if n.status != solver.Success {
		return nil, fmt.Errorf("no successful solve to export")
	}
	doc := resultsDoc{
		Version:    ResultsVersion,
		Status:     n.status,
		Iterations: n.iterations,
		Residual:   n.residual,
		Buses:      []busResultDoc{},
		Grounds:    []groundResultDoc{},
		Lines:      []branchResultDoc{},
		Trans:      []branchResultDoc{},
		Switches:   []branchResultDoc{},
		Loads:      []loadResultDoc{},
		Sources:    []sourceResultDoc{},
	}
	for _, b := range n.buses {
		v, err := b.ResPotentials()
		if err != nil {
			return nil, fmt.Errorf("bus %q: %w", b.ID(), err)
		}
		doc.Buses = append(doc.Buses, busResultDoc{ID: b.ID(), Potentials: toCplxVec(v)})
	}
	for _, g := range n.grounds {
		v, err := g.ResPotential()
		if err != nil {
			return nil, fmt.Errorf("ground %q: %w", g.ID(), err)
		}
		doc.Grounds = append(doc.Grounds, groundResultDoc{ID: g.ID(), Potential: toCplx(v)})
	}
	for _, l := range n.lines {
		i1, i2, err := l.ResCurrents()
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", l.ID(), err)
		}
		d := branchResultDoc{ID: l.ID(), Currents1: toCplxVec(i1), Currents2: toCplxVec(i2)}
		if l.Parameters().HasShunt() {
			ig, _ := l.ResGroundCurrent()
			c := toCplx(ig)
			d.GroundCurrent = &c
		}
		doc.Lines = append(doc.Lines, d)
	}
	for _, t := range n.transformers {
		i1, i2, err := t.ResCurrents()
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", t.ID(), err)
		}
		doc.Trans = append(doc.Trans, branchResultDoc{ID: t.ID(), Currents1: toCplxVec(i1), Currents2: toCplxVec(i2)})
	}
	for _, s := range n.switches {
		i1, i2, err := s.ResCurrents()
		if err != nil {
			continue // balance could not be closed for this switch
		}
		doc.Switches = append(doc.Switches, branchResultDoc{ID: s.ID(), Currents1: toCplxVec(i1), Currents2: toCplxVec(i2)})
	}
	for _, ld := range n.loads {
		cur, err := ld.ResCurrents()
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", ld.ID(), err)
		}
		pw, _ := ld.ResPowers()
		doc.Loads = append(doc.Loads, loadResultDoc{ID: ld.ID(), Currents: toCplxVec(cur), Powers: toCplxVec(pw)})
	}
	for _, s := range n.sources {
		cur, err := s.ResCurrents()
		if err != nil {
			continue
		}
		doc.Sources = append(doc.Sources, sourceResultDoc{ID: s.ID(), Currents: toCplxVec(cur)})
	}

	sort.Slice(doc.Buses, func(i, j int) bool { return doc.Buses[i].ID < doc.Buses[j].ID })
	sort.Slice(doc.Grounds, func(i, j int) bool { return doc.Grounds[i].ID < doc.Grounds[j].ID })
	sort.Slice(doc.Lines, func(i, j int) bool { return doc.Lines[i].ID < doc.Lines[j].ID })
	sort.Slice(doc.Trans, func(i, j int) bool { return doc.Trans[i].ID < doc.Trans[j].ID })
	sort.Slice(doc.Switches, func(i, j int) bool { return doc.Switches[i].ID < doc.Switches[j].ID })
	sort.Slice(doc.Loads, func(i, j int) bool { return doc.Loads[i].ID < doc.Loads[j].ID })
	sort.Slice(doc.Sources, func(i, j int) bool { return doc.Sources[i].ID < doc.Sources[j].ID })

	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalResults loads a result export into the network: bus and ground
// potentials are distributed and every element's results recovered from its
// own equations, leaving the network indistinguishable from one solved
// directly.
func (n *Network) UnmarshalResults(data []byte) error {
	var doc resultsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("results document: %w", err)
	}
	if doc.Version != ResultsVersion {
		return fmt.Errorf("results document: unsupported version %d", doc.Version)
	}
	potentials := map[string][][2]float64{}
	for _, d := range doc.Buses {
		if n.buses[d.ID] == nil {
			return model.Structuralf("results reference unknown bus %q", d.ID)
		}
		vals := make([][2]float64, len(d.Potentials))
		for i, c := range d.Potentials {
			vals[i] = [2]float64(c)
		}
		potentials[d.ID] = vals
	}
	for _, d := range doc.Grounds {
		if n.grounds[d.ID] == nil {
			return model.Structuralf("results reference unknown ground %q", d.ID)
		}
		potentials[d.ID] = [][2]float64{[2]float64(d.Potential)}
	}
	if err := n.distribute(potentials); err != nil {
		return err
	}
	if err := n.refresh(); err != nil {
		return err
	}
	n.status = doc.Status
	n.iterations = doc.Iterations
	n.residual = doc.Residual
	return nil
}
