package compute

import (
	"errors"
	"fmt"
	"strings"
)

// BufferID names a surface or host buffer touched by an operation.
type BufferID string

// Op is one step of a plan. Reads and Writes declare every buffer the step
// touches; the plan orders steps from these declarations alone.
type Op struct {
	Kernel string
	Reads  []BufferID
	Writes []BufferID
	Run    func() error
}

// EdgeKind classifies a happens-before edge.
type EdgeKind int

const (
	ReadAfterWrite EdgeKind = iota
	WriteAfterRead
	WriteAfterWrite
)

func (k EdgeKind) String() string {
	switch k {
	case ReadAfterWrite:
		return "RAW"
	case WriteAfterRead:
		return "WAR"
	case WriteAfterWrite:
		return "WAW"
	default:
		return fmt.Sprintf("EdgeKind(%d)", int(k))
	}
}

// Edge states that op From must complete before op To starts.
type Edge struct {
	From   int
	To     int
	Buffer BufferID
	Kind   EdgeKind
}

var (
	ErrEmptyPlan       = errors.New("plan has no operations")
	ErrPlanNotCompiled = errors.New("plan not compiled")
)

// Plan is an ordered list of operations plus the dependency graph derived
// from their buffer declarations. Operations with no path between them land
// in the same wave and may run concurrently.
type Plan struct {
	name     string
	ops      []Op
	edges    []Edge
	waves    [][]int
	compiled bool
}

func NewPlan(name string) *Plan {
	return &Plan{name: name}
}

func (p *Plan) Name() string { return p.name }

func (p *Plan) Len() int { return len(p.ops) }

// Add appends an operation. The plan must be compiled again afterwards.
func (p *Plan) Add(op Op) *Plan {
	p.ops = append(p.ops, op)
	p.compiled = false
	return p
}

// Compile derives edges and waves and checks the one-writer-per-step rule.
func (p *Plan) Compile() error {
	if len(p.ops) == 0 {
		return fmt.Errorf("%s: %w", p.name, ErrEmptyPlan)
	}
	for i, op := range p.ops {
		if op.Kernel == "" || op.Run == nil {
			return fmt.Errorf("%s: op %d is incomplete", p.name, i)
		}
	}

	p.edges = p.edges[:0]
	level := make([]int, len(p.ops))

	for j := range p.ops {
		for i := 0; i < j; i++ {
			for _, e := range dependencies(p.ops[i], p.ops[j]) {
				e.From, e.To = i, j
				p.edges = append(p.edges, e)
				if level[i]+1 > level[j] {
					level[j] = level[i] + 1
				}
			}
		}
	}

	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	p.waves = make([][]int, depth)
	for i, l := range level {
		p.waves[l] = append(p.waves[l], i)
	}

	if err := p.validateWaves(); err != nil {
		return err
	}

	p.compiled = true
	return nil
}

func dependencies(earlier, later Op) []Edge {
	var edges []Edge
	for _, w := range earlier.Writes {
		if contains(later.Reads, w) {
			edges = append(edges, Edge{Buffer: w, Kind: ReadAfterWrite})
		}
		if contains(later.Writes, w) {
			edges = append(edges, Edge{Buffer: w, Kind: WriteAfterWrite})
		}
	}
	for _, r := range earlier.Reads {
		if contains(later.Writes, r) && !contains(earlier.Writes, r) {
			edges = append(edges, Edge{Buffer: r, Kind: WriteAfterRead})
		}
	}
	return edges
}

func contains(ids []BufferID, id BufferID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (p *Plan) validateWaves() error {
	for w, wave := range p.waves {
		writers := make(map[BufferID]int)
		for _, i := range wave {
			for _, b := range p.ops[i].Writes {
				if prev, ok := writers[b]; ok {
					return fmt.Errorf("%s: wave %d: %s written by %s and %s",
						p.name, w, b, p.ops[prev].Kernel, p.ops[i].Kernel)
				}
				writers[b] = i
			}
		}
		for _, i := range wave {
			for _, b := range p.ops[i].Reads {
				if wr, ok := writers[b]; ok && wr != i {
					return fmt.Errorf("%s: wave %d: %s read by %s while written by %s",
						p.name, w, b, p.ops[i].Kernel, p.ops[wr].Kernel)
				}
			}
		}
	}
	return nil
}

// Edges returns a copy of the derived happens-before edges.
func (p *Plan) Edges() []Edge {
	out := make([]Edge, len(p.edges))
	copy(out, p.edges)
	return out
}

// Waves returns the kernel names of each wave, in execution order.
func (p *Plan) Waves() [][]string {
	out := make([][]string, len(p.waves))
	for w, wave := range p.waves {
		for _, i := range wave {
			out[w] = append(out[w], p.ops[i].Kernel)
		}
	}
	return out
}

// String renders the plan for audit logging.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s:", p.name)
	for w, wave := range p.Waves() {
		fmt.Fprintf(&b, " [%d] %s;", w, strings.Join(wave, ","))
	}
	for _, e := range p.edges {
		fmt.Fprintf(&b, " %s->%s(%s %s)", p.ops[e.From].Kernel, p.ops[e.To].Kernel, e.Kind, e.Buffer)
	}
	return b.String()
}
