package network

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/phasorlab/gridflow/internal/pkg/control"
	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/model/line"
	"github.com/phasorlab/gridflow/internal/pkg/model/load"
	"github.com/phasorlab/gridflow/internal/pkg/model/source"
	"github.com/phasorlab/gridflow/internal/pkg/model/switchgear"
	"github.com/phasorlab/gridflow/internal/pkg/model/transformer"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// ModelVersion is the serialized model schema version.
const ModelVersion = 1

// cplx serializes a complex number as [re, im].
type cplx [2]float64

func toCplx(c complex128) cplx { return cplx{real(c), imag(c)} }

func (c cplx) complex() complex128 { return complex(c[0], c[1]) }

func toCplxVec(v []complex128) []cplx {
	out := make([]cplx, len(v))
	for i := range v {
		out[i] = toCplx(v[i])
	}
	return out
}

func fromCplxVec(v []cplx) []complex128 {
	out := make([]complex128, len(v))
	for i := range v {
		out[i] = v[i].complex()
	}
	return out
}

func toCplxMatrix(m *mat.CDense) [][]cplx {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]cplx, r)
	for i := 0; i < r; i++ {
		out[i] = make([]cplx, c)
		for j := 0; j < c; j++ {
			out[i][j] = toCplx(m.At(i, j))
		}
	}
	return out
}

func fromCplxMatrix(rows [][]cplx) *mat.CDense {
	if rows == nil {
		return nil
	}
	r := len(rows)
	m := mat.NewCDense(r, len(rows[0]), nil)
	for i := range rows {
		for j := range rows[i] {
			m.Set(i, j, rows[i][j].complex())
		}
	}
	return m
}

type groundDoc struct {
	ID string `json:"id"`
}

type potentialRefDoc struct {
	ID     string `json:"id"`
	Bus    string `json:"bus,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Ground string `json:"ground,omitempty"`
}

type busDoc struct {
	ID             string  `json:"id"`
	Phases         string  `json:"phases"`
	NominalVoltage float64 `json:"nominal_voltage,omitempty"`
	MinVoltage     float64 `json:"min_voltage,omitempty"`
	MaxVoltage     float64 `json:"max_voltage,omitempty"`
}

type lineParamsDoc struct {
	ID         string    `json:"id"`
	Phases     string    `json:"phases"`
	Z          [][]cplx  `json:"z"`
	Y          [][]cplx  `json:"y,omitempty"`
	Ampacities []float64 `json:"ampacities,omitempty"`
}

type lineDoc struct {
	ID       string  `json:"id"`
	Bus1     string  `json:"bus1"`
	Bus2     string  `json:"bus2"`
	Phases   string  `json:"phases"`
	ParamsID string  `json:"params_id"`
	Length   float64 `json:"length"`
	Ground   string  `json:"ground,omitempty"`
	Open     bool    `json:"open,omitempty"`
}

type transformerParamsDoc struct {
	ID          string               `json:"id"`
	VectorGroup string               `json:"vector_group"`
	Data        transformer.TestData `json:"data"`
}

type transformerDoc struct {
	ID       string  `json:"id"`
	Bus1     string  `json:"bus1"`
	Bus2     string  `json:"bus2"`
	ParamsID string  `json:"params_id"`
	Tap      float64 `json:"tap"`
	Ground1  string  `json:"ground1,omitempty"`
	Ground2  string  `json:"ground2,omitempty"`
}

type switchDoc struct {
	ID     string `json:"id"`
	Bus1   string `json:"bus1"`
	Bus2   string `json:"bus2"`
	Phases string `json:"phases"`
	Open   bool   `json:"open,omitempty"`
}

type flexParamDoc struct {
	Control    string  `json:"control"`
	Projection string  `json:"projection"`
	UMin       float64 `json:"u_min,omitempty"`
	UDown      float64 `json:"u_down,omitempty"`
	UUp        float64 `json:"u_up,omitempty"`
	UMax       float64 `json:"u_max,omitempty"`
	SMax       float64 `json:"s_max"`
}

type loadDoc struct {
	ID         string         `json:"id"`
	Bus        string         `json:"bus"`
	Phases     string         `json:"phases"`
	Type       string         `json:"type"`
	Values     []cplx         `json:"values"`
	FlexParams []flexParamDoc `json:"flexible_params,omitempty"`
}

type sourceDoc struct {
	ID       string `json:"id"`
	Bus      string `json:"bus"`
	Phases   string `json:"phases"`
	Voltages []cplx `json:"voltages"`
}

type groundConnDoc struct {
	ID        string `json:"id"`
	Ground    string `json:"ground"`
	Bus       string `json:"bus"`
	Phase     string `json:"phase"`
	Impedance cplx   `json:"impedance"`
}

type shortCircuitDoc struct {
	ID     string `json:"id"`
	Bus    string `json:"bus"`
	Phases string `json:"phases"`
	Ground string `json:"ground,omitempty"`
}

type modelDoc struct {
	Version            int                    `json:"version"`
	Grounds            []groundDoc            `json:"grounds"`
	PotentialRefs      []potentialRefDoc      `json:"potential_refs"`
	Buses              []busDoc               `json:"buses"`
	Lines              []lineDoc              `json:"lines"`
	LinesParams        []lineParamsDoc        `json:"lines_params"`
	Transformers       []transformerDoc       `json:"transformers"`
	TransformersParams []transformerParamsDoc `json:"transformers_params"`
	Switches           []switchDoc            `json:"switches"`
	Loads              []loadDoc              `json:"loads"`
	Sources            []sourceDoc            `json:"sources"`
	GroundConnections  []groundConnDoc        `json:"ground_connections"`
	ShortCircuits      []shortCircuitDoc      `json:"short_circuits,omitempty"`
}

// MarshalModel serializes the network into the versioned model schema. The
// output is deterministic for a fixed element graph: every array is sorted
// by id.
func (n *Network) MarshalModel() ([]byte, error) {
	doc := modelDoc{
		Version:            ModelVersion,
		Grounds:            []groundDoc{},
		PotentialRefs:      []potentialRefDoc{},
		Buses:              []busDoc{},
		Lines:              []lineDoc{},
		LinesParams:        []lineParamsDoc{},
		Transformers:       []transformerDoc{},
		TransformersParams: []transformerParamsDoc{},
		Switches:           []switchDoc{},
		Loads:              []loadDoc{},
		Sources:            []sourceDoc{},
		GroundConnections:  []groundConnDoc{},
	}

	for _, g := range n.grounds {
		doc.Grounds = append(doc.Grounds, groundDoc{ID: g.ID()})
	}
	for _, pr := range n.potentialRefs {
		d := potentialRefDoc{ID: pr.ID()}
		if b, ph := pr.BusTarget(); b != nil {
			d.Bus = b.ID()
			d.Phase = string(ph)
		} else if g := pr.GroundTarget(); g != nil {
			d.Ground = g.ID()
		}
		doc.PotentialRefs = append(doc.PotentialRefs, d)
	}
	for _, b := range n.buses {
		min, max := b.VoltageLimits()
		doc.Buses = append(doc.Buses, busDoc{
			ID: b.ID(), Phases: string(b.Phases()),
			NominalVoltage: b.NominalVoltage(), MinVoltage: min, MaxVoltage: max,
		})
	}
	for _, p := range n.lineParams {
		doc.LinesParams = append(doc.LinesParams, lineParamsDoc{
			ID: p.ID(), Phases: string(p.Phases()),
			Z: toCplxMatrix(p.Z()), Y: toCplxMatrix(p.Y()), Ampacities: p.Ampacities(),
		})
	}
	for _, l := range n.lines {
		b1, b2 := l.Buses()
		d := lineDoc{
			ID: l.ID(), Bus1: b1.ID(), Bus2: b2.ID(), Phases: string(l.Phases()),
			ParamsID: l.Parameters().ID(), Length: l.Length(), Open: l.Open(),
		}
		if g := l.Ground(); g != nil {
			d.Ground = g.ID()
		}
		doc.Lines = append(doc.Lines, d)
	}
	for _, p := range n.tfParams {
		doc.TransformersParams = append(doc.TransformersParams, transformerParamsDoc{
			ID: p.ID(), VectorGroup: p.VectorGroup(), Data: p.TestData(),
		})
	}
	// Transformer neutral connections are carried on the transformer doc,
	// not repeated in ground_connections.
	implicit := map[string]bool{}
	for _, t := range n.transformers {
		b1, b2 := t.Buses()
		d := transformerDoc{ID: t.ID(), Bus1: b1.ID(), Bus2: b2.ID(), ParamsID: t.Parameters().ID(), Tap: t.Tap()}
		gc1, gc2 := t.NeutralConnections()
		if gc1 != nil {
			d.Ground1 = gc1.Ground().ID()
			implicit[gc1.ID()] = true
		}
		if gc2 != nil {
			d.Ground2 = gc2.Ground().ID()
			implicit[gc2.ID()] = true
		}
		doc.Transformers = append(doc.Transformers, d)
	}
	for _, s := range n.switches {
		b1, b2 := s.Buses()
		doc.Switches = append(doc.Switches, switchDoc{
			ID: s.ID(), Bus1: b1.ID(), Bus2: b2.ID(), Phases: string(s.Phases()), Open: s.Open(),
		})
	}
	for _, ld := range n.loads {
		d := loadDoc{
			ID: ld.ID(), Bus: ld.Bus().ID(), Phases: string(ld.Phases()),
			Type: ld.Kind().String(), Values: toCplxVec(ld.Values()),
		}
		for _, fp := range ld.FlexParams() {
			uMin, uDown, uUp, uMax := fp.Thresholds()
			d.FlexParams = append(d.FlexParams, flexParamDoc{
				Control: fp.Kind().String(), Projection: fp.ProjectionKind().String(),
				UMin: uMin, UDown: uDown, UUp: uUp, UMax: uMax, SMax: fp.SMax(),
			})
		}
		doc.Loads = append(doc.Loads, d)
	}
	for _, s := range n.sources {
		doc.Sources = append(doc.Sources, sourceDoc{
			ID: s.ID(), Bus: s.Bus().ID(), Phases: string(s.Phases()), Voltages: toCplxVec(s.Voltages()),
		})
	}
	for _, gc := range n.groundConnections {
		if implicit[gc.ID()] {
			continue
		}
		b, ok := targetBus(gc)
		if !ok {
			return nil, model.Structuralf("ground connection %q targets a non-bus element", gc.ID())
		}
		_, ph := gc.Target()
		doc.GroundConnections = append(doc.GroundConnections, groundConnDoc{
			ID: gc.ID(), Ground: gc.Ground().ID(), Bus: b.ID(), Phase: string(ph), Impedance: toCplx(gc.Impedance()),
		})
	}
	for _, sc := range n.shortCircuits {
		d := shortCircuitDoc{ID: sc.ID(), Bus: sc.Bus().ID(), Phases: string(sc.Phases())}
		if g := sc.Ground(); g != nil {
			d.Ground = g.ID()
		}
		doc.ShortCircuits = append(doc.ShortCircuits, d)
	}

	sort.Slice(doc.Grounds, func(i, j int) bool { return doc.Grounds[i].ID < doc.Grounds[j].ID })
	sort.Slice(doc.PotentialRefs, func(i, j int) bool { return doc.PotentialRefs[i].ID < doc.PotentialRefs[j].ID })
	sort.Slice(doc.Buses, func(i, j int) bool { return doc.Buses[i].ID < doc.Buses[j].ID })
	sort.Slice(doc.Lines, func(i, j int) bool { return doc.Lines[i].ID < doc.Lines[j].ID })
	sort.Slice(doc.LinesParams, func(i, j int) bool { return doc.LinesParams[i].ID < doc.LinesParams[j].ID })
	sort.Slice(doc.Transformers, func(i, j int) bool { return doc.Transformers[i].ID < doc.Transformers[j].ID })
	sort.Slice(doc.TransformersParams, func(i, j int) bool { return doc.TransformersParams[i].ID < doc.TransformersParams[j].ID })
	sort.Slice(doc.Switches, func(i, j int) bool { return doc.Switches[i].ID < doc.Switches[j].ID })
	sort.Slice(doc.Loads, func(i, j int) bool { return doc.Loads[i].ID < doc.Loads[j].ID })
	sort.Slice(doc.Sources, func(i, j int) bool { return doc.Sources[i].ID < doc.Sources[j].ID })
	sort.Slice(doc.GroundConnections, func(i, j int) bool { return doc.GroundConnections[i].ID < doc.GroundConnections[j].ID })
	sort.Slice(doc.ShortCircuits, func(i, j int) bool { return doc.ShortCircuits[i].ID < doc.ShortCircuits[j].ID })

	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalModel rebuilds a network from a serialized model document. The
// rebuilt graph is observably identical to the serialized one: same ids,
// phases and parameter values; object identity necessarily differs.
func UnmarshalModel(data []byte) (*Network, error) {
	var doc modelDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("model document: %w", err)
	}
	if doc.Version != ModelVersion {
		return nil, fmt.Errorf("model document: unsupported version %d", doc.Version)
	}

	grounds := map[string]*model.Ground{}
	for _, d := range doc.Grounds {
		g, err := model.NewGround(d.ID)
		if err != nil {
			return nil, err
		}
		grounds[d.ID] = g
	}
	buses := map[string]*model.Bus{}
	for _, d := range doc.Buses {
		b, err := model.NewBus(d.ID, phasor.Phases(d.Phases))
		if err != nil {
			return nil, err
		}
		if d.NominalVoltage != 0 {
			b.SetNominalVoltage(d.NominalVoltage)
		}
		if d.MinVoltage != 0 || d.MaxVoltage != 0 {
			b.SetVoltageLimits(d.MinVoltage, d.MaxVoltage)
		}
		buses[d.ID] = b
	}

	lineParams := line.Catalogue{}
	for _, d := range doc.LinesParams {
		p, err := line.NewParameters(d.ID, phasor.Phases(d.Phases), fromCplxMatrix(d.Z), fromCplxMatrix(d.Y), d.Ampacities)
		if err != nil {
			return nil, err
		}
		lineParams[d.ID] = p
	}
	tfParams := transformer.Catalogue{}
	for _, d := range doc.TransformersParams {
		p, err := transformer.NewParameters(d.ID, d.VectorGroup, d.Data)
		if err != nil {
			return nil, err
		}
		tfParams[d.ID] = p
	}

	var first model.Element
	var all []model.Element
	track := func(e model.Element) {
		if first == nil {
			first = e
		}
	}

	for _, d := range doc.Lines {
		b1, b2, err := busPair(buses, d.Bus1, d.Bus2, "line", d.ID)
		if err != nil {
			return nil, err
		}
		p, err := lineParams.Get(d.ParamsID)
		if err != nil {
			return nil, err
		}
		var g *model.Ground
		if d.Ground != "" {
			if g = grounds[d.Ground]; g == nil {
				return nil, model.Structuralf("line %q references unknown ground %q", d.ID, d.Ground)
			}
		}
		l, err := line.New(d.ID, b1, b2, phasor.Phases(d.Phases), p, d.Length, g)
		if err != nil {
			return nil, err
		}
		l.SetOpen(d.Open)
		track(l)
		all = append(all, l)
	}
	for _, d := range doc.Transformers {
		b1, b2, err := busPair(buses, d.Bus1, d.Bus2, "transformer", d.ID)
		if err != nil {
			return nil, err
		}
		p, err := tfParams.Get(d.ParamsID)
		if err != nil {
			return nil, err
		}
		var g1, g2 *model.Ground
		if d.Ground1 != "" {
			g1 = grounds[d.Ground1]
		}
		if d.Ground2 != "" {
			g2 = grounds[d.Ground2]
		}
		t, err := transformer.New(d.ID, b1, b2, p, d.Tap, g1, g2)
		if err != nil {
			return nil, err
		}
		track(t)
		all = append(all, t)
	}
	for _, d := range doc.Switches {
		b1, b2, err := busPair(buses, d.Bus1, d.Bus2, "switch", d.ID)
		if err != nil {
			return nil, err
		}
		s, err := switchgear.New(d.ID, b1, b2, phasor.Phases(d.Phases))
		if err != nil {
			return nil, err
		}
		s.SetOpen(d.Open)
		track(s)
		all = append(all, s)
	}
	for _, d := range doc.Loads {
		b := buses[d.Bus]
		if b == nil {
			return nil, model.Structuralf("load %q references unknown bus %q", d.ID, d.Bus)
		}
		ld, err := buildLoad(d, b)
		if err != nil {
			return nil, err
		}
		track(ld)
		all = append(all, ld)
	}
	for _, d := range doc.Sources {
		b := buses[d.Bus]
		if b == nil {
			return nil, model.Structuralf("source %q references unknown bus %q", d.ID, d.Bus)
		}
		s, err := source.New(d.ID, b, phasor.Phases(d.Phases), fromCplxVec(d.Voltages))
		if err != nil {
			return nil, err
		}
		track(s)
		all = append(all, s)
	}
	for _, d := range doc.GroundConnections {
		g := grounds[d.Ground]
		b := buses[d.Bus]
		if g == nil || b == nil {
			return nil, model.Structuralf("ground connection %q references unknown ground %q or bus %q", d.ID, d.Ground, d.Bus)
		}
		if d.Phase == "" {
			return nil, model.Structuralf("ground connection %q has no phase", d.ID)
		}
		gc, err := model.NewGroundConnection(d.ID, g, b, d.Phase[0], d.Impedance.complex())
		if err != nil {
			return nil, err
		}
		track(gc)
		all = append(all, gc)
	}
	for _, d := range doc.ShortCircuits {
		b := buses[d.Bus]
		if b == nil {
			return nil, model.Structuralf("short circuit %q references unknown bus %q", d.ID, d.Bus)
		}
		var g *model.Ground
		if d.Ground != "" {
			g = grounds[d.Ground]
		}
		sc, err := model.NewShortCircuit(d.ID, b, phasor.Phases(d.Phases), g)
		if err != nil {
			return nil, err
		}
		track(sc)
		all = append(all, sc)
	}
	for _, d := range doc.PotentialRefs {
		var pr *model.PotentialRef
		var err error
		switch {
		case d.Bus != "":
			b := buses[d.Bus]
			if b == nil {
				return nil, model.Structuralf("potential ref %q references unknown bus %q", d.ID, d.Bus)
			}
			if d.Phase == "" {
				return nil, model.Structuralf("potential ref %q has no phase", d.ID)
			}
			pr, err = model.NewBusRef(d.ID, b, d.Phase[0])
		case d.Ground != "":
			g := grounds[d.Ground]
			if g == nil {
				return nil, model.Structuralf("potential ref %q references unknown ground %q", d.ID, d.Ground)
			}
			pr, err = model.NewGroundRef(d.ID, g)
		default:
			err = model.Structuralf("potential ref %q has no target", d.ID)
		}
		if err != nil {
			return nil, err
		}
		track(pr)
		all = append(all, pr)
	}
	for _, b := range buses {
		all = append(all, b)
	}
	for _, g := range grounds {
		all = append(all, g)
	}

	if first == nil {
		if len(all) == 0 {
			return nil, model.Structuralf("model document holds no elements")
		}
		first = all[0]
	}
	n, err := FromElement(first)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.Network() == nil || e.Network().PID() != n.PID() {
			return nil, model.Structuralf("element %q is not connected to the rest of the model", e.ID())
		}
	}
	return n, nil
}

func busPair(buses map[string]*model.Bus, id1, id2, kind, id string) (*model.Bus, *model.Bus, error) {
	b1, b2 := buses[id1], buses[id2]
	if b1 == nil || b2 == nil {
		return nil, nil, model.Structuralf("%s %q references unknown bus %q or %q", kind, id, id1, id2)
	}
	return b1, b2, nil
}

func buildLoad(d loadDoc, b *model.Bus) (*load.Load, error) {
	values := fromCplxVec(d.Values)
	if len(d.FlexParams) > 0 {
		params := make([]control.Parameter, len(d.FlexParams))
		for i, fd := range d.FlexParams {
			p, err := buildFlexParam(fd)
			if err != nil {
				return nil, model.Structuralf("load %q: %v", d.ID, err)
			}
			params[i] = p
		}
		return load.NewFlexible(d.ID, b, phasor.Phases(d.Phases), values, params)
	}
	var kind load.Kind
	switch d.Type {
	case "power":
		kind = load.Power
	case "impedance":
		kind = load.Impedance
	case "current":
		kind = load.Current
	default:
		return nil, model.Structuralf("load %q has unknown type %q", d.ID, d.Type)
	}
	return load.New(d.ID, b, phasor.Phases(d.Phases), kind, values)
}

func buildFlexParam(d flexParamDoc) (control.Parameter, error) {
	proj, err := parseProjection(d.Projection)
	if err != nil {
		return control.Parameter{}, err
	}
	switch d.Control {
	case "constant":
		return control.NewConstant(d.SMax)
	case "p_u":
		return control.NewPU(d.UMin, d.UDown, d.UUp, d.UMax, d.SMax, proj)
	case "q_u":
		return control.NewQU(d.UMin, d.UDown, d.UUp, d.UMax, d.SMax, proj)
	case "pq_u":
		return control.NewPQU(d.UMin, d.UDown, d.UUp, d.UMax, d.SMax, proj)
	default:
		return control.Parameter{}, fmt.Errorf("unknown control %q", d.Control)
	}
}

func parseProjection(s string) (control.Projection, error) {
	switch s {
	case "euclidean", "":
		return control.Euclidean, nil
	case "keep_p":
		return control.KeepP, nil
	case "keep_q":
		return control.KeepQ, nil
	default:
		return control.Euclidean, fmt.Errorf("unknown projection %q", s)
	}
}
