package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/bcrelay/internal/core"
)

func TestHub_PublishInOrder(t *testing.T) {
	var h Hub
	var got []string

	h.Subscribe(func(core.Frame) { got = append(got, "a") })
	h.Subscribe(func(core.Frame) { got = append(got, "b") })

	n := h.Publish(core.Frame{Data: []byte{1}})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	var h Hub
	calls := 0

	sub := h.Subscribe(func(core.Frame) { calls++ })
	h.Publish(core.Frame{})
	sub.Close()
	sub.Close()
	h.Publish(core.Frame{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.Len())
}

func TestHub_CloseKeepsOtherSubscribers(t *testing.T) {
	var h Hub
	var a, b, c int

	h.Subscribe(func(core.Frame) { a++ })
	sb := h.Subscribe(func(core.Frame) { b++ })
	h.Subscribe(func(core.Frame) { c++ })

	sb.Close()
	h.Publish(core.Frame{})

	assert.Equal(t, []int{1, 0, 1}, []int{a, b, c})
	assert.Equal(t, 2, h.Len())
}

func TestHub_UnsubscribeDuringPublish(t *testing.T) {
	var h Hub
	var second int
	var sub Subscription

	h.Subscribe(func(core.Frame) { sub.Close() })
	sub = h.Subscribe(func(core.Frame) { second++ })

	// The in-flight publish already holds its snapshot.
	h.Publish(core.Frame{})
	h.Publish(core.Frame{})

	assert.Equal(t, 1, second)
}

func TestHub_ConcurrentPublish(t *testing.T) {
	var h Hub
	var mu sync.Mutex
	total := 0
	h.Subscribe(func(core.Frame) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish(core.Frame{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, total)
}
