// Package snowflake generates time-ordered 64-bit identifiers. The upper
// bits hold milliseconds since the Unix epoch; the low 16 bits hold a
// 6-bit node id, a backdated flag and a 9-bit sequence.
package snowflake

import (
	"sync"
	"time"
)

const (
	sequenceBits = 9
	nodeBits     = 6
	timeShift    = 16

	sequenceMask = 1<<sequenceBits - 1
	backdated    = 1 << sequenceBits
	nodeShift    = sequenceBits + 1

	// MaxNode is the largest node id a generator accepts
	MaxNode = 1<<nodeBits - 1
)

// Generator hands out ids unique among generators with distinct node ids.
// It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	now    func() time.Time
	node   int64
	lastMs int64
	seq    int64
	past   int64
}

// New creates a generator for node reading the wall clock
func New(node int64) *Generator {
	return NewWithClock(node, time.Now)
}

// NewWithClock creates a generator for node reading now. Node ids are
// reduced modulo MaxNode+1.
func NewWithClock(node int64, now func() time.Time) *Generator {
	return &Generator{now: now, node: node & MaxNode}
}

// Node returns the node id embedded in every id of g
func (g *Generator) Node() int64 {
	return g.node
}

// Next returns an id greater than every id previously returned by Next.
// If the clock moves backwards the generator keeps counting from the
// last observed millisecond.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.advance(g.now().UnixMilli())
}

// NextAt returns an id whose timestamp is t, so ids sort by t rather than
// by issue order. Times in the future are clamped to now. Times older
// than the last id from Next are marked backdated and draw from their
// own rotating sequence.
func (g *Generator) NextAt(t time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := t.UnixMilli()
	if now := g.now().UnixMilli(); ms > now {
		ms = now
	}
	if ms >= g.lastMs {
		return g.advance(ms)
	}
	g.past = (g.past + 1) & sequenceMask
	return At(time.UnixMilli(ms)) | g.node<<nodeShift | backdated | g.past
}

func (g *Generator) advance(ms int64) int64 {
	if ms > g.lastMs {
		g.lastMs = ms
		g.seq = 0
	} else {
		g.seq++
		if g.seq > sequenceMask {
			g.lastMs++
			g.seq = 0
		}
	}
	return g.lastMs<<timeShift | g.node<<nodeShift | g.seq
}

// At returns the smallest id that can be produced at t, usable as a range bound
func At(t time.Time) int64 {
	return t.UnixMilli() << timeShift
}

// Time extracts the millisecond timestamp of id
func Time(id int64) time.Time {
	return time.UnixMilli(id >> timeShift)
}

// NodeOf extracts the node id of id
func NodeOf(id int64) int64 {
	return id >> nodeShift & MaxNode
}
