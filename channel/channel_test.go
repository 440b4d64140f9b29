package channel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInProcess_SelfDelivery(t *testing.T) {
	ch := Self()
	require.Equal(t, 0, ch.Rank())
	require.Equal(t, 1, ch.Size())

	require.NoError(t, ch.Enqueue(0, Message{Tag: TagGhost, Payload: []byte("hello")}))
	require.NoError(t, ch.Exchange())

	msg, err := ch.Dequeue(0, TagGhost)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg.Payload)

	_, err = ch.Dequeue(0, TagGhost)
	require.ErrorIs(t, err, ErrNoMessage)
}

func TestInProcess_BarrierDeliversAllPairs(t *testing.T) {
	const n = 4
	eps := NewInProcess(n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ch := eps[r]
			// Every rank sends one message to every rank, itself included.
			for dst := 0; dst < n; dst++ {
				payload := []byte(fmt.Sprintf("%d->%d", r, dst))
				if err := ch.Enqueue(dst, Message{Tag: TagDescriptor, Payload: payload}); err != nil {
					errs[r] = err
					return
				}
			}
			if err := ch.Exchange(); err != nil {
				errs[r] = err
				return
			}
			for src := 0; src < n; src++ {
				msg, err := ch.Dequeue(src, TagDescriptor)
				if err != nil {
					errs[r] = fmt.Errorf("rank %d dequeue from %d: %w", r, src, err)
					return
				}
				want := fmt.Sprintf("%d->%d", src, r)
				if string(msg.Payload) != want {
					errs[r] = fmt.Errorf("rank %d: expected %q, got %q", r, want, msg.Payload)
					return
				}
			}
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

func TestInProcess_TagFiltering(t *testing.T) {
	ch := Self()
	require.NoError(t, ch.Enqueue(0, Message{Tag: TagCounts, Payload: []byte{1}}))
	require.NoError(t, ch.Enqueue(0, Message{Tag: TagGhost, Payload: []byte{2}}))
	require.NoError(t, ch.Exchange())

	// Dequeue by tag skips messages of other tags.
	msg, err := ch.Dequeue(0, TagGhost)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, msg.Payload)

	msg, err = ch.Dequeue(0, TagCounts)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, msg.Payload)
}

func TestInProcess_MultipleRounds(t *testing.T) {
	const n = 2
	eps := NewInProcess(n)

	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ch := eps[r]
			for round := 0; round < 3; round++ {
				other := 1 - r
				_ = ch.Enqueue(other, Message{Tag: TagGhost, Payload: []byte{byte(round)}})
				_ = ch.Exchange()
				msg, err := ch.Dequeue(other, TagGhost)
				if err != nil || msg.Payload[0] != byte(round) {
					t.Errorf("rank %d round %d: bad delivery (%v)", r, round, err)
				}
			}
		}(r)
	}
	wg.Wait()
}

func TestInProcess_RangeErrors(t *testing.T) {
	ch := Self()
	require.Error(t, ch.Enqueue(3, Message{}))
	_, err := ch.Dequeue(-1, TagGhost)
	require.Error(t, err)
}
