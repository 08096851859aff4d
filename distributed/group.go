package distributed

import (
	"context"
	"fmt"
	"sync"
)

// Group connects reducers that live in one process, one per worker goroutine
type Group struct {
	mu     sync.Mutex
	size   int
	rounds map[uint64]*round
	closed bool
	done   chan struct{}

	members []*Member
}

type round struct {
	op      Op
	contrib [][]float64
	arrived int
	readers int
	ready   chan struct{}
	result  []float64
	err     error
}

// Member is one worker's view of a Group
type Member struct {
	group *Group
	rank  int
	seq   uint64
}

// NewGroup creates a group of n workers
func NewGroup(n int) (*Group, error) {
	if n < 1 {
		return nil, fmt.Errorf("world size must be at least 1, got %d", n)
	}
	g := &Group{
		size:   n,
		rounds: make(map[uint64]*round),
		done:   make(chan struct{}),
	}
	for rank := 0; rank < n; rank++ {
		g.members = append(g.members, &Member{group: g, rank: rank})
	}
	return g, nil
}

// Member returns the reducer for rank
func (g *Group) Member(rank int) *Member {
	return g.members[rank]
}

// Members returns all reducers in rank order
func (g *Group) Members() []*Member {
	return append([]*Member(nil), g.members...)
}

// Close releases every worker blocked in a collective with ErrClosed
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.done)
	}
}

func (g *Group) exchange(ctx context.Context, rank int, seq uint64, op Op, data []float64) ([]float64, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	r, ok := g.rounds[seq]
	if !ok {
		r = &round{op: op, contrib: make([][]float64, g.size), ready: make(chan struct{})}
		g.rounds[seq] = r
	}
	if r.op != op {
		r.err = fmt.Errorf("collective mismatch in round %d: rank %d called %s, others called %s", seq, rank, op, r.op)
	}
	r.contrib[rank] = data
	r.arrived++
	if r.arrived == g.size {
		if r.err == nil {
			r.result, r.err = Combine(r.op, r.contrib)
		}
		close(r.ready)
	}
	g.mu.Unlock()

	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.done:
		return nil, ErrClosed
	}

	g.mu.Lock()
	r.readers++
	if r.readers == g.size {
		delete(g.rounds, seq)
	}
	g.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return append([]float64(nil), r.result...), nil
}

func (m *Member) next() uint64 {
	m.seq++
	return m.seq
}

func (m *Member) Rank() int      { return m.rank }
func (m *Member) WorldSize() int { return m.group.size }

func (m *Member) AllReduceMean(ctx context.Context, v float64) (float64, error) {
	out, err := m.group.exchange(ctx, m.rank, m.next(), OpMean, []float64{v})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (m *Member) AllReduceMeanVec(ctx context.Context, v []float32) ([]float32, error) {
	out, err := m.group.exchange(ctx, m.rank, m.next(), OpMean, ToFloat64(v))
	if err != nil {
		return nil, err
	}
	return ToFloat32(out), nil
}

func (m *Member) AllGather(ctx context.Context, v []float32) ([]float32, error) {
	out, err := m.group.exchange(ctx, m.rank, m.next(), OpGather, ToFloat64(v))
	if err != nil {
		return nil, err
	}
	return ToFloat32(out), nil
}
