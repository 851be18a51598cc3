package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewPropertyBus()
	var got Event
	b.Subscribe("cache.loaded", "caller-1", func(e Event) { got = e })

	b.Publish(Event{Property: "cache.loaded", OldValue: false, NewValue: true})
	assert.Equal(t, Event{Property: "cache.loaded", OldValue: false, NewValue: true}, got)
}

func TestOnceFiresOnlyOnce(t *testing.T) {
	b := NewPropertyBus()
	count := 0
	b.Once("montage.stale", "caller-1", func(Event) { count++ })

	b.Publish(Event{Property: "montage.stale"})
	b.Publish(Event{Property: "montage.stale"})
	assert.Equal(t, 1, count)
}

func TestUnsubscribeCallerRemovesAcrossProperties(t *testing.T) {
	b := NewPropertyBus()
	count := 0
	b.Subscribe("a", "caller-1", func(Event) { count++ })
	b.Subscribe("b", "caller-1", func(Event) { count++ })
	b.Subscribe("a", "caller-2", func(Event) { count++ })

	b.UnsubscribeCaller("caller-1")

	b.Publish(Event{Property: "a"})
	b.Publish(Event{Property: "b"})
	assert.Equal(t, 1, count)
}
