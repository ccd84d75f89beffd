package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Publish("hello")
	assert.Equal(t, "hello", <-sub)
}

func TestFanOut(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.Publish(42)
	assert.Equal(t, 42, <-s1)
	assert.Equal(t, 42, <-s2)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	b.Subscribe() // never drained
	for i := 0; i < 100; i++ {
		b.Publish(i) // fills the buffer, then drops
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
	b.Publish("after") // no panic on the removed subscriber
}

func TestClose(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	_, ok := <-sub
	require.False(t, ok)
	b.Publish("ignored")
	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
