// Package comm provides the rank communicator used to build and apply
// remaps on a distributed target decomposition.
//
// Every rank owns a disjoint set of target DOFs and an independent map. The
// only collective primitive is Exchange (a personalised all-to-all); the
// generic helpers AllGather, AllToAll, Broadcast and AllReduceSum are built on
// top of it. Values handed to a collective are shared by reference with the
// receiving ranks and must be treated as read-only afterwards.
package comm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/sync/errgroup"
)

// tracer writes to trace with key 'comm'
func tracer() tracing.Trace {
	return tracing.Select("comm")
}

// ErrAborted is returned by ranks that were blocked in a collective when a
// peer rank failed.
var ErrAborted = errors.New("communicator aborted by a failing rank")

// Comm is a rank communicator
type Comm interface {
	Rank() int
	Size() int
	Barrier()
	// Exchange delivers send[dst] to rank dst and returns the values sent to
	// this rank, indexed by source rank. len(send) must equal Size().
	Exchange(send []any) []any
}

// Serial returns the single-rank communicator
func Serial() Comm {
	return serial{}
}

type serial struct{}

func (serial) Rank() int { return 0 }
func (serial) Size() int { return 1 }
func (serial) Barrier()  {}
func (serial) Exchange(send []any) []any {
	if len(send) != 1 {
		panic(fmt.Sprintf("comm: exchange needs 1 send slot, got %d", len(send)))
	}
	return []any{send[0]}
}

// World joins Size in-process ranks. Each rank runs on its own goroutine and
// talks to its peers through shared mailboxes guarded by a cyclic barrier.
type World struct {
	size int

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
	aborted    bool

	// boxes[dst][src]
	boxes [][]any
}

// NewWorld creates a world of size ranks
func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("comm: world size must be positive, got %d", size))
	}
	w := &World{
		size:  size,
		boxes: make([][]any, size),
	}
	w.cond = sync.NewCond(&w.mu)
	for i := range w.boxes {
		w.boxes[i] = make([]any, size)
	}
	return w
}

// Size returns the number of ranks
func (w *World) Size() int { return w.size }

// Comm returns the communicator for rank
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d outside world of size %d", rank, w.size))
	}
	return &rankComm{world: w, rank: rank}
}

// Run executes fn once per rank concurrently and waits for all ranks. When a
// rank fails the world is aborted so that peers blocked in collectives return
// ErrAborted; the first non-abort error is reported.
func (w *World) Run(fn func(c Comm) error) error {
	errs := make([]error, w.size)
	var g errgroup.Group
	for rank := 0; rank < w.size; rank++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if r != ErrAborted {
						w.abort()
						err = fmt.Errorf("rank %d panicked: %v", rank, r)
					} else {
						err = ErrAborted
					}
					errs[rank] = err
				}
			}()
			if err = fn(w.Comm(rank)); err != nil {
				tracer().Errorf("rank %d failed: %v", rank, err)
				errs[rank] = err
				w.abort()
			}
			return err
		})
	}
	_ = g.Wait()
	var aborted error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrAborted) {
			return err
		}
		aborted = err
	}
	return aborted
}

func (w *World) abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// barrier blocks until all ranks arrive. Must be called with w.mu held.
func (w *World) barrierLocked() {
	if w.aborted {
		w.mu.Unlock()
		panic(ErrAborted)
	}
	gen := w.generation
	w.arrived++
	if w.arrived == w.size {
		w.arrived = 0
		w.generation++
		w.cond.Broadcast()
		return
	}
	for gen == w.generation && !w.aborted {
		w.cond.Wait()
	}
	if gen == w.generation {
		w.mu.Unlock()
		panic(ErrAborted)
	}
}

type rankComm struct {
	world *World
	rank  int
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.world.size }

func (c *rankComm) Barrier() {
	w := c.world
	w.mu.Lock()
	w.barrierLocked()
	w.mu.Unlock()
}

func (c *rankComm) Exchange(send []any) []any {
	w := c.world
	if len(send) != w.size {
		panic(fmt.Sprintf("comm: exchange needs %d send slots, got %d", w.size, len(send)))
	}
	w.mu.Lock()
	for dst, v := range send {
		w.boxes[dst][c.rank] = v
	}
	w.barrierLocked()
	recv := make([]any, w.size)
	copy(recv, w.boxes[c.rank])
	// nobody may overwrite a mailbox before its owner has read it
	w.barrierLocked()
	w.mu.Unlock()
	return recv
}
