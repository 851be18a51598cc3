package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"epicurrents.dev/core/events"
)

func TestSetPublishesChangeEvent(t *testing.T) {
	bus := events.NewPropertyBus()
	s := New(bus)

	var got events.Event
	bus.Subscribe("montage.default.lowpass", "test", func(e events.Event) { got = e })

	s.Set("montage.default.lowpass", 40.0)
	assert.Equal(t, events.Event{Property: "montage.default.lowpass", OldValue: nil, NewValue: 40.0}, got)

	s.Set("montage.default.lowpass", 35.0)
	assert.Equal(t, 40.0, got.OldValue)
	assert.Equal(t, 35.0, got.NewValue)
}

func TestGetAndDelete(t *testing.T) {
	s := New(nil)
	s.Set("buffer.budget-bytes", int64(1000))

	v, ok := s.Get("buffer.budget-bytes")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), v)

	s.Delete("buffer.budget-bytes")
	_, ok = s.Get("buffer.budget-bytes")
	assert.False(t, ok)
}

func TestPrefix(t *testing.T) {
	s := New(nil)
	s.Set("montage.default.lowpass", 40.0)
	s.Set("montage.default.highpass", 1.0)
	s.Set("montage.other.lowpass", 30.0)

	got := s.Prefix("montage.default")
	assert.Len(t, got, 2)
}
