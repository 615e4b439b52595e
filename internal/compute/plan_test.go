package compute

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nop() error { return nil }

func TestPlanDerivesEdgesAndWaves(t *testing.T) {
	p := NewPlan("frame").
		Add(Op{Kernel: "zero", Writes: []BufferID{"cur"}, Run: nop}).
		Add(Op{Kernel: "hist", Reads: []BufferID{"img"}, Writes: []BufferID{"cur"}, Run: nop}).
		Add(Op{Kernel: "copy_ref", Reads: []BufferID{"ref"}, Writes: []BufferID{"refCDF"}, Run: nop}).
		Add(Op{Kernel: "copy_cur", Reads: []BufferID{"cur"}, Writes: []BufferID{"curCDF"}, Run: nop}).
		Add(Op{Kernel: "join", Reads: []BufferID{"cur"}, Writes: []BufferID{"ref"}, Run: nop})

	require.NoError(t, p.Compile())

	assert.Equal(t, [][]string{
		{"zero", "copy_ref"},
		{"hist"},
		{"copy_cur", "join"},
	}, p.Waves())

	edges := p.Edges()
	assert.Contains(t, edges, Edge{From: 0, To: 1, Buffer: "cur", Kind: WriteAfterWrite})
	assert.Contains(t, edges, Edge{From: 1, To: 3, Buffer: "cur", Kind: ReadAfterWrite})
	assert.Contains(t, edges, Edge{From: 2, To: 4, Buffer: "ref", Kind: WriteAfterRead})
	assert.Contains(t, p.String(), "copy_ref->join(WAR ref)")
}

func TestPlanCompileRejectsEmptyAndIncomplete(t *testing.T) {
	err := NewPlan("empty").Compile()
	assert.ErrorIs(t, err, ErrEmptyPlan)

	err = NewPlan("broken").Add(Op{Kernel: "x"}).Compile()
	assert.Error(t, err)
}

func TestQueueRejectsUncompiledPlan(t *testing.T) {
	q := newQueue(nil, nopLog())
	err := q.Submit(NewPlan("p").Add(Op{Kernel: "x", Run: nop}))
	assert.ErrorIs(t, err, ErrPlanNotCompiled)
}

func TestQueueStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32

	p := NewPlan("p").
		Add(Op{Kernel: "first", Writes: []BufferID{"a"}, Run: func() error { return boom }}).
		Add(Op{Kernel: "second", Reads: []BufferID{"a"}, Run: func() error { ran.Add(1); return nil }})
	require.NoError(t, p.Compile())

	err := newQueue(nil, nopLog()).Submit(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKernelLaunch)
	assert.ErrorIs(t, err, boom)

	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "first", kerr.Kernel)
	assert.Zero(t, ran.Load())
}

func TestQueueConvertsPanics(t *testing.T) {
	p := NewPlan("p").Add(Op{Kernel: "bad", Run: func() error { panic("index out of range") }})
	require.NoError(t, p.Compile())

	err := newQueue(nil, nopLog()).Submit(p)
	assert.ErrorIs(t, err, ErrKernelLaunch)
}

func TestQueueRunsIndependentOpsOfAWave(t *testing.T) {
	var count atomic.Int32
	inc := func() error { count.Add(1); return nil }

	p := NewPlan("p").
		Add(Op{Kernel: "a", Writes: []BufferID{"x"}, Run: inc}).
		Add(Op{Kernel: "b", Writes: []BufferID{"y"}, Run: inc}).
		Add(Op{Kernel: "c", Writes: []BufferID{"z"}, Run: inc})
	require.NoError(t, p.Compile())
	require.Len(t, p.Waves(), 1)

	q := newQueue(nil, nopLog())
	require.NoError(t, q.Submit(p))
	assert.EqualValues(t, 3, count.Load())

	plans, ops := q.Stats()
	assert.EqualValues(t, 1, plans)
	assert.EqualValues(t, 3, ops)
}
