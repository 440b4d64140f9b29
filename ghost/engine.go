package ghost

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/notargets/ghostsync/channel"
)

// gidSpace is the outcome of the count round: globally unique partition ids,
// assigned deterministically as rank offset plus local index, and the
// reverse rank lookup used to address ghost buffers.
type gidSpace struct {
	offset int
	counts []int // partitions per rank
	cum    []int // cum[r] = first gid of rank r
}

// assignGIDs runs the count round: every rank announces how many partitions
// it owns; the local gid block starts after all lower ranks' blocks.
func assignGIDs(ch channel.Channel, nLocal int) (*gidSpace, error) {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], uint64(nLocal))
	for r := 0; r < ch.Size(); r++ {
		if err := ch.Enqueue(r, channel.Message{Tag: channel.TagCounts, Payload: payload[:]}); err != nil {
			return nil, fmt.Errorf("announcing partition count: %w", err)
		}
	}
	if err := ch.Exchange(); err != nil {
		return nil, fmt.Errorf("count round exchange: %w", err)
	}
	s := &gidSpace{counts: make([]int, ch.Size()), cum: make([]int, ch.Size()+1)}
	for r := 0; r < ch.Size(); r++ {
		msg, err := ch.Dequeue(r, channel.TagCounts)
		if err != nil {
			return nil, fmt.Errorf("count from rank %d: %w", r, err)
		}
		if len(msg.Payload) != 8 {
			return nil, fmt.Errorf("count from rank %d: bad payload size %d", r, len(msg.Payload))
		}
		s.counts[r] = int(binary.LittleEndian.Uint64(msg.Payload))
	}
	for r := 0; r < ch.Size(); r++ {
		s.cum[r+1] = s.cum[r] + s.counts[r]
	}
	s.offset = s.cum[ch.Rank()]
	return s, nil
}

// rankOf returns the rank owning a gid.
func (s *gidSpace) rankOf(gid int) int {
	for r := 0; r < len(s.counts); r++ {
		if gid < s.cum[r+1] {
			return r
		}
	}
	return -1
}

// total returns the global partition count.
func (s *gidSpace) total() int { return s.cum[len(s.cum)-1] }

// broadcastDescriptors ships one encoded descriptor payload to every other
// rank and returns the payloads received from each of them, keyed by rank.
func broadcastDescriptors(ch channel.Channel, encoded []byte) (map[int][]byte, error) {
	for r := 0; r < ch.Size(); r++ {
		if r == ch.Rank() {
			continue
		}
		if err := ch.Enqueue(r, channel.Message{Tag: channel.TagDescriptor, Payload: encoded}); err != nil {
			return nil, fmt.Errorf("enqueueing descriptors for rank %d: %w", r, err)
		}
	}
	if err := ch.Exchange(); err != nil {
		return nil, fmt.Errorf("descriptor round exchange: %w", err)
	}
	remote := make(map[int][]byte, ch.Size()-1)
	for r := 0; r < ch.Size(); r++ {
		if r == ch.Rank() {
			continue
		}
		msg, err := ch.Dequeue(r, channel.TagDescriptor)
		if err != nil {
			return nil, fmt.Errorf("descriptors from rank %d: %w", r, err)
		}
		remote[r] = msg.Payload
	}
	return remote, nil
}

// parallelFor runs fn(i) for i in [0, n) on a bounded worker pool. Each
// iteration owns its own output slot, so no cross-iteration synchronization
// is needed beyond the final join.
func parallelFor(n, workers int, fn func(i int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
