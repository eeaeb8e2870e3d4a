package instance

import (
	"sync"

	"github.com/michael-pryor/MikeNet-sub001/internal/memacct"
	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// packetQueue is the per-stream FIFO of framed packets awaiting
// application pull. It backs TCP and every UDP mode: each packet the
// installed UDP mode delivers is queued in arrival order, including in
// UDP_PER_CLIENT / UDP_PER_CLIENT_PER_OPERATION, whose newest-packet
// slot only feeds the mode's own memory accounting and is not what
// RecvUDP reads. A memacct.Counter bounds the total
// size of packets sitting in the queue unconsumed, since the framing
// mode's own receive-memory limit only governs partial/in-flight
// buffers, not packets that have already been delivered and are simply
// waiting on a slow application to call Pop.
type packetQueue struct {
	mu    sync.Mutex
	items []*wire.Buffer
	acct  *memacct.Counter
}

// newPacketQueue creates a queue whose queued-but-unconsumed packets
// may not exceed memoryLimit bytes in total (0 = unrestricted).
func newPacketQueue(memoryLimit int) *packetQueue {
	if memoryLimit < 0 {
		memoryLimit = 0
	}
	return &packetQueue{acct: memacct.NewCounter(uint64(memoryLimit))}
}

// Push appends p to the tail of the queue, charging its size against
// the queue's memory accountant. It returns an error and drops p
// without enqueuing it if doing so would exceed the configured limit.
func (q *packetQueue) Push(p *wire.Buffer) error {
	if err := q.acct.Add(uint64(p.Memory())); err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	return nil
}

// Pop removes and returns the head of the queue, or (nil, false) if
// empty.
func (q *packetQueue) Pop() (*wire.Buffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	_ = q.acct.Sub(uint64(p.Memory()))
	return p, true
}

// Len reports the number of queued packets.
func (q *packetQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset discards every queued packet, e.g. when a client record is
// recycled for reuse by a new connection.
func (q *packetQueue) Reset() {
	q.mu.Lock()
	for _, p := range q.items {
		_ = q.acct.Sub(uint64(p.Memory()))
	}
	q.items = nil
	q.mu.Unlock()
}
