// Package channel defines the black-box communication transport used by the
// ghost engine: typed message enqueue/dequeue around an explicit collective
// exchange barrier. An in-process implementation backed by a shared hub lets
// the full round-based protocol run across goroutines without MPI.
package channel

import (
	"errors"
	"fmt"
	"sync"
)

// Message tags identify the round a payload belongs to.
const (
	TagCounts     uint32 = iota + 1 // partition-count round (gid assignment)
	TagDescriptor                   // descriptor exchange round
	TagGhost                        // ghost buffer round
)

// Message is an opaque typed payload addressed between ranks.
type Message struct {
	Tag     uint32
	Payload []byte
}

// ErrNoMessage is returned by Dequeue when the source's queue holds no
// further message with the requested tag.
var ErrNoMessage = errors.New("channel: no message")

// Channel is the transport contract. Enqueue may be called any number of
// times before a single blocking Exchange that performs all sends and
// receives for the round; Dequeue is only valid after Exchange returns and
// pops messages in enqueue order. Self-addressed messages are delivered like
// any other. Rounds are atomic: no partial or streaming delivery.
type Channel interface {
	Rank() int
	Size() int
	Enqueue(target int, msg Message) error
	Dequeue(source int, tag uint32) (Message, error)
	Exchange() error
}

// hub is the shared state behind a set of in-process endpoints. Exchange is a
// true collective barrier: the last rank to arrive moves all staged messages
// into the destination inboxes and releases the others.
type hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	round   int

	staged    [][]Message // staged[dst], accumulated between barriers
	stagedSrc [][]int     // rank that staged each message
	inboxes   [][]Message // inboxes[dst], readable after a barrier
	inboxSrc  [][]int     // rank that sent each delivered message
}

// InProcess is one rank's endpoint of an in-process channel group.
type InProcess struct {
	h    *hub
	rank int
}

// NewInProcess creates n endpoints sharing one barrier. Endpoint i has
// rank i.
func NewInProcess(n int) []*InProcess {
	h := &hub{
		n:         n,
		staged:    make([][]Message, n),
		stagedSrc: make([][]int, n),
		inboxes:   make([][]Message, n),
		inboxSrc:  make([][]int, n),
	}
	h.cond = sync.NewCond(&h.mu)
	eps := make([]*InProcess, n)
	for i := range eps {
		eps[i] = &InProcess{h: h, rank: i}
	}
	return eps
}

// Self returns a size-1 channel for single-process runs.
func Self() *InProcess { return NewInProcess(1)[0] }

func (c *InProcess) Rank() int { return c.rank }
func (c *InProcess) Size() int { return c.h.n }

// Enqueue stages a message for delivery at the next Exchange.
func (c *InProcess) Enqueue(target int, msg Message) error {
	if target < 0 || target >= c.h.n {
		return fmt.Errorf("channel: target rank %d out of range [0,%d)", target, c.h.n)
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	c.h.staged[target] = append(c.h.staged[target], msg)
	c.h.stagedSrc[target] = append(c.h.stagedSrc[target], c.rank)
	return nil
}

// Exchange blocks until every rank in the group has called it, then delivers
// all staged messages.
func (c *InProcess) Exchange() error {
	h := c.h
	h.mu.Lock()
	defer h.mu.Unlock()

	h.arrived++
	if h.arrived == h.n {
		// Last arriver performs delivery for everyone.
		for dst := 0; dst < h.n; dst++ {
			h.inboxes[dst] = append(h.inboxes[dst], h.staged[dst]...)
			h.inboxSrc[dst] = append(h.inboxSrc[dst], h.stagedSrc[dst]...)
			h.staged[dst] = nil
			h.stagedSrc[dst] = nil
		}
		h.arrived = 0
		h.round++
		h.cond.Broadcast()
		return nil
	}
	myRound := h.round
	for h.round == myRound {
		h.cond.Wait()
	}
	return nil
}

// Dequeue pops the next delivered message from the given source rank whose
// tag matches, or ErrNoMessage when drained.
func (c *InProcess) Dequeue(source int, tag uint32) (Message, error) {
	if source < 0 || source >= c.h.n {
		return Message{}, fmt.Errorf("channel: source rank %d out of range [0,%d)", source, c.h.n)
	}
	h := c.h
	h.mu.Lock()
	defer h.mu.Unlock()
	inbox := h.inboxes[c.rank]
	srcs := h.inboxSrc[c.rank]
	for i, msg := range inbox {
		if srcs[i] == source && msg.Tag == tag {
			h.inboxes[c.rank] = append(inbox[:i:i], inbox[i+1:]...)
			h.inboxSrc[c.rank] = append(srcs[:i:i], srcs[i+1:]...)
			return msg, nil
		}
	}
	return Message{}, ErrNoMessage
}
