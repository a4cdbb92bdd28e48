// Package ring implements the bounded, single-producer / many-consumer
// packet buffer Reflec fans a live MMS stream out through.
//
// Grounded on the teacher's internal/stream.Buffer (atomic write position,
// sync.Cond broadcast wakeups, pool-friendly design) but the payload model
// is a fixed-size array of whole packets keyed by sequence number rather
// than a byte ring, because MMS framing must never be split mid-packet
// the way a raw byte ring would allow.
package ring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotareflec/reflec/internal/mmsframe"
)

// ErrTerminated is returned by Reader.Next once the ring has been
// terminated and no further packets will ever arrive.
var ErrTerminated = errors.New("ring: terminated")

// pollInterval bounds how long a caught-up reader sleeps between checks
// when it is not woken by a broadcast (spec.md §4.4/§5: "10 ms
// granularity").
const pollInterval = 10 * time.Millisecond

// DefaultCapacity is the bufsize default (spec.md §3).
const DefaultCapacity = 16

// Ring is a fixed-capacity, sequence-keyed packet buffer. One goroutine
// may call Push; any number of goroutines may read concurrently through
// their own Reader. The writer never blocks on readers (I1–I3 of
// spec.md §3).
type Ring struct {
	capacity int64
	slots    []atomic.Pointer[mmsframe.Packet]

	seq atomic.Int64 // last written sequence; -1 means empty (I1)

	terminated atomic.Bool
	condMu     sync.Mutex
	cond       *sync.Cond
}

// New creates a ring with the given capacity (DefaultCapacity is used
// for capacity <= 0).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{
		capacity: int64(capacity),
		slots:    make([]atomic.Pointer[mmsframe.Packet], capacity),
	}
	r.seq.Store(-1)
	r.cond = sync.NewCond(&r.condMu)
	return r
}

// Push appends p as the next sequence. Wait-free with respect to any
// number of concurrent readers: it never takes a lock readers also take.
func (r *Ring) Push(p *mmsframe.Packet) {
	newSeq := r.seq.Load() + 1
	idx := newSeq % r.capacity
	r.slots[idx].Store(p) // write payload before publishing the sequence
	r.seq.Store(newSeq)   // release: readers that observe newSeq see the slot

	r.condMu.Lock()
	r.cond.Broadcast()
	r.condMu.Unlock()
}

// Latest returns the most recently written sequence number, or -1 if the
// ring is empty.
func (r *Ring) Latest() int64 {
	return r.seq.Load()
}

// Capacity returns N.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// Terminate marks the ring as closed. Readers blocked in Next wake up and
// return ErrTerminated once no further packet is available.
func (r *Ring) Terminate() {
	r.terminated.Store(true)
	r.condMu.Lock()
	r.cond.Broadcast()
	r.condMu.Unlock()
}

// Terminated reports whether Terminate has been called.
func (r *Ring) Terminated() bool {
	return r.terminated.Load()
}

// get returns the slot currently holding sequence seq. Slot reuse on
// wraparound means a caller that previously jumped forward (see
// Reader.Next) never calls this with a sequence more than capacity-1
// behind Latest().
func (r *Ring) get(seq int64) *mmsframe.Packet {
	return r.slots[seq%r.capacity].Load()
}

// Reader is a single downstream consumer's cursor into a Ring.
type Reader struct {
	ring   *Ring
	cursor int64
}

// NewReader returns a reader whose cursor starts at Latest()+1 — "start
// with the next packet" (spec.md §3 RingSlot/§4.4), not a burst replay of
// already-buffered packets.
func (r *Ring) NewReader() *Reader {
	return &Reader{ring: r, cursor: r.Latest() + 1}
}

// Cursor returns the sequence number the reader will next request.
func (rd *Reader) Cursor() int64 {
	return rd.cursor
}

// Next blocks until a packet is available for the reader's cursor, the
// ring terminates, or ctx is cancelled. On success it advances the cursor
// by one and returns the packet. If the reader has fallen behind by at
// least the ring's capacity, it jumps forward to the newest available
// packet rather than reading overwritten content (I3 "too far behind ⇒
// jump forward") — no undefined read is ever returned.
func (rd *Reader) Next(ctx context.Context) (*mmsframe.Packet, error) {
	r := rd.ring

	for {
		latest := r.Latest()

		if latest-rd.cursor >= r.capacity {
			rd.cursor = latest
			if rd.cursor < 0 {
				rd.cursor = 0
			}
		}

		if rd.cursor <= latest {
			p := r.get(rd.cursor)
			rd.cursor++
			return p, nil
		}

		if r.Terminated() {
			return nil, ErrTerminated
		}

		if err := waitForPush(ctx, r); err != nil {
			return nil, err
		}
	}
}

// waitForPush blocks until the ring's sequence advances, it terminates,
// or ctx is cancelled — an instant wakeup via sync.Cond.Broadcast on
// Push/Terminate, with a bounded poll fallback so a missed wakeup never
// stalls a reader for more than one pollInterval (grounded on the
// teacher's Buffer.WaitForDataContext).
func waitForPush(ctx context.Context, r *Ring) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			r.condMu.Lock()
			r.cond.Broadcast()
			r.condMu.Unlock()
		case <-done:
		}
	}()

	r.condMu.Lock()
	defer r.condMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if r.Terminated() {
		return nil
	}

	timer := time.AfterFunc(pollInterval, func() {
		r.condMu.Lock()
		r.cond.Broadcast()
		r.condMu.Unlock()
	})
	r.cond.Wait()
	timer.Stop()

	return ctx.Err()
}
