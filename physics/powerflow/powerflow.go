// Package powerflow solves a linearized DC load flow over a configured
// bus/line topology, producing per-line active-power flows and thermal
// overload flags.
package powerflow

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/physics"
)

// BusSpec describes one node of the network
type BusSpec struct {
	Name string
	Type string // generator, load, interconnect
}

// LineSpec describes one branch of the network
type LineSpec struct {
	Name        string
	From        string
	To          string
	ReactancePU float64
	RatingMVA   float64
}

// BusState is the solved state of one bus
type BusState struct {
	Name     string
	Type     string
	AngleDeg float64
	GenMW    float64
	LoadMW   float64
}

// LineState is the solved state of one line
type LineState struct {
	Name      string
	From      string
	To        string
	FlowMW    float64
	RatingMVA float64
	Overload  bool
}

// baseMVA converts per-unit reactances and MW injections consistently.
const baseMVA = 100.0

// Engine solves the DC load flow each Update. Not safe for concurrent use.
type Engine struct {
	busOrder []string
	busIndex map[string]int
	buses    map[string]*BusState
	lines    []*LineState
	specs    []LineSpec

	clamps physics.ClampSet
}

// New validates the topology and builds an engine for it. Validation
// failures wrap ErrTopologyInvalid.
func New(buses []BusSpec, lines []LineSpec) (*Engine, error) {
	e := &Engine{
		busIndex: make(map[string]int, len(buses)),
		buses:    make(map[string]*BusState, len(buses)),
		specs:    lines,
		clamps:   make(physics.ClampSet),
	}

	if len(buses) < 2 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: need at least 2 buses, got %d", errors.ErrTopologyInvalid, len(buses)),
			"PowerFlow", "New", "validate topology")
	}

	for _, b := range buses {
		if _, dup := e.busIndex[b.Name]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: duplicate bus %s", errors.ErrTopologyInvalid, b.Name),
				"PowerFlow", "New", "validate topology")
		}
		e.busIndex[b.Name] = len(e.busOrder)
		e.busOrder = append(e.busOrder, b.Name)
		e.buses[b.Name] = &BusState{Name: b.Name, Type: b.Type}
	}

	for _, l := range lines {
		fromIdx, okFrom := e.busIndex[l.From]
		toIdx, okTo := e.busIndex[l.To]
		if !okFrom || !okTo {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: line %s references unknown bus", errors.ErrTopologyInvalid, l.Name),
				"PowerFlow", "New", "validate topology")
		}
		if fromIdx == toIdx {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: line %s connects %s to itself", errors.ErrTopologyInvalid, l.Name, l.From),
				"PowerFlow", "New", "validate topology")
		}
		if l.ReactancePU <= 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: line %s reactance must be positive", errors.ErrTopologyInvalid, l.Name),
				"PowerFlow", "New", "validate topology")
		}
		if l.RatingMVA <= 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: line %s rating must be positive", errors.ErrTopologyInvalid, l.Name),
				"PowerFlow", "New", "validate topology")
		}
		e.lines = append(e.lines, &LineState{
			Name: l.Name, From: l.From, To: l.To, RatingMVA: l.RatingMVA,
		})
	}

	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	return e, nil
}

// checkConnected rejects topologies where some bus is unreachable; the
// reduced susceptance matrix would be singular for them.
func (e *Engine) checkConnected() error {
	if len(e.specs) == 0 {
		return nil
	}

	adjacent := make(map[string][]string)
	for _, l := range e.specs {
		adjacent[l.From] = append(adjacent[l.From], l.To)
		adjacent[l.To] = append(adjacent[l.To], l.From)
	}

	visited := make(map[string]bool, len(e.busOrder))
	queue := []string{e.busOrder[0]}
	visited[e.busOrder[0]] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, name := range e.busOrder {
		if !visited[name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: bus %s is not connected", errors.ErrTopologyInvalid, name),
				"PowerFlow", "New", "validate topology")
		}
	}
	return nil
}

// Name implements physics.Engine
func (e *Engine) Name() string { return "powerflow" }

// Initialize implements physics.Engine; validation already ran in New
func (e *Engine) Initialize() error { return nil }

// SetInjection sets the generation and load at one bus
func (e *Engine) SetInjection(bus string, genMW, loadMW float64) error {
	b, ok := e.buses[bus]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: bus %s", errors.ErrTopologyInvalid, bus),
			"PowerFlow", "SetInjection", "look up bus")
	}
	b.GenMW = genMW
	b.LoadMW = loadMW
	return nil
}

// SetControl applies bus injections by key: "gen_mw.<bus>" and
// "load_mw.<bus>". Unknown buses and keys are ignored.
func (e *Engine) SetControl(inputs map[string]float64) {
	for key, v := range inputs {
		switch {
		case strings.HasPrefix(key, "gen_mw."):
			if b, ok := e.buses[strings.TrimPrefix(key, "gen_mw.")]; ok {
				b.GenMW = v
			}
		case strings.HasPrefix(key, "load_mw."):
			if b, ok := e.buses[strings.TrimPrefix(key, "load_mw.")]; ok {
				b.LoadMW = v
			}
		}
	}
}

// Update solves the load flow for the current injections. The slack bus is
// the first configured bus; dt plays no role in a steady-state solve but is
// part of the engine contract.
func (e *Engine) Update(_ float64) {
	e.clamps.Reset()
	if len(e.lines) == 0 {
		return
	}

	n := len(e.busOrder)
	// Susceptance matrix and net injections in per unit; slack absorbs the
	// imbalance.
	b := make([][]float64, n)
	for i := range b {
		b[i] = make([]float64, n)
	}
	p := make([]float64, n)

	for _, l := range e.specs {
		i := e.busIndex[l.From]
		j := e.busIndex[l.To]
		y := 1 / l.ReactancePU
		b[i][i] += y
		b[j][j] += y
		b[i][j] -= y
		b[j][i] -= y
	}
	for idx, name := range e.busOrder {
		bus := e.buses[name]
		p[idx] = (bus.GenMW - bus.LoadMW) / baseMVA
	}

	// Solve the reduced system with bus 0 as slack (angle 0).
	theta := solveReduced(b, p)

	for idx, name := range e.busOrder {
		angle := e.clamps.Sanitize("angle."+name,
			theta[idx]*180/math.Pi, physics.Bound{Min: -90, Max: 90})
		e.buses[name].AngleDeg = angle
	}

	for k, l := range e.lines {
		spec := e.specs[k]
		i := e.busIndex[spec.From]
		j := e.busIndex[spec.To]
		flow := (theta[i] - theta[j]) / spec.ReactancePU * baseMVA
		l.FlowMW = e.clamps.Sanitize("flow."+spec.Name,
			flow, physics.Bound{Min: -10 * spec.RatingMVA, Max: 10 * spec.RatingMVA})
		l.Overload = math.Abs(l.FlowMW) > l.RatingMVA
	}
}

// solveReduced eliminates the slack row/column and solves B'*theta = p by
// Gaussian elimination with partial pivoting. Topologies are small, so a
// dense solve is fine.
func solveReduced(b [][]float64, p []float64) []float64 {
	n := len(p)
	m := n - 1
	theta := make([]float64, n)
	if m == 0 {
		return theta
	}

	a := make([][]float64, m)
	rhs := make([]float64, m)
	for i := 0; i < m; i++ {
		a[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			a[i][j] = b[i+1][j+1]
		}
		rhs[i] = p[i+1]
	}

	for col := 0; col < m; col++ {
		pivot := col
		for row := col + 1; row < m; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		a[col], a[pivot] = a[pivot], a[col]
		rhs[col], rhs[pivot] = rhs[pivot], rhs[col]

		if math.Abs(a[col][col]) < 1e-12 {
			continue
		}
		for row := col + 1; row < m; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < m; k++ {
				a[row][k] -= factor * a[col][k]
			}
			rhs[row] -= factor * rhs[col]
		}
	}

	for row := m - 1; row >= 0; row-- {
		if math.Abs(a[row][row]) < 1e-12 {
			continue
		}
		sum := rhs[row]
		for k := row + 1; k < m; k++ {
			sum -= a[row][k] * theta[k+1]
		}
		theta[row+1] = sum / a[row][row]
	}
	return theta
}

// Buses returns solved bus states in configuration order
func (e *Engine) Buses() []BusState {
	out := make([]BusState, 0, len(e.busOrder))
	for _, name := range e.busOrder {
		out = append(out, *e.buses[name])
	}
	return out
}

// Lines returns solved line states in configuration order
func (e *Engine) Lines() []LineState {
	out := make([]LineState, 0, len(e.lines))
	for _, l := range e.lines {
		out = append(out, *l)
	}
	return out
}

// Overloaded returns the names of lines above their thermal rating, sorted
func (e *Engine) Overloaded() []string {
	var names []string
	for _, l := range e.lines {
		if l.Overload {
			names = append(names, l.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Telemetry returns per-line flows and overload flags
func (e *Engine) Telemetry() map[string]float64 {
	tel := make(map[string]float64, 2*len(e.lines)+len(e.busOrder)+1)
	for _, l := range e.lines {
		tel["flow_mw."+l.Name] = l.FlowMW
		tel["overload."+l.Name] = physics.BoolToFloat(l.Overload)
	}
	for _, name := range e.busOrder {
		tel["angle_deg."+name] = e.buses[name].AngleDeg
	}
	tel["clamped"] = float64(len(e.clamps))
	return tel
}

// ClampedQuantities lists values clamped during the last Update
func (e *Engine) ClampedQuantities() []string {
	return e.clamps.Names()
}
