package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"epicurrents.dev/core/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoHandler(ctx context.Context, c Commission) (Response, bool) {
	return Response{Success: true, Payload: c.Payload}, true
}

func TestSendResolvesAgainstHandler(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.RegisterHandler(echoHandler)

	resp, err := s.Send(context.Background(), "get-signals", 42)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 42, resp.Payload)
	assert.Equal(t, "get-signals", resp.Action)
}

func TestCascadeFallsThroughToParent(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.RegisterHandler(func(ctx context.Context, c Commission) (Response, bool) {
		return Response{}, false // child declines
	})
	s.RegisterHandler(func(ctx context.Context, c Commission) (Response, bool) {
		return Response{Success: true, Reason: "parent"}, true
	})

	resp, err := s.Send(context.Background(), "set-filters", nil)
	require.NoError(t, err)
	assert.Equal(t, "parent", resp.Reason)
}

func TestUnknownActionRejected(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	resp, err := s.Send(context.Background(), "bogus", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown-action", resp.Reason)
}

func TestShutdownRejectsOutstanding(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	block := make(chan struct{})
	s.RegisterHandler(func(ctx context.Context, c Commission) (Response, bool) {
		<-block
		return Response{Success: true}, true
	})

	done := make(chan Response, 1)
	go func() {
		resp, _ := s.Send(context.Background(), "get-signals", nil)
		done <- resp
	}()

	time.Sleep(10 * time.Millisecond)
	s.Shutdown()
	close(block)

	resp := <-done
	assert.False(t, resp.Success)
	assert.Equal(t, "shutdown", resp.Reason)
}

func TestCancelledContextRejectsWithCancelled(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	block := make(chan struct{})
	defer close(block)
	s.RegisterHandler(func(ctx context.Context, c Commission) (Response, bool) {
		<-block
		return Response{Success: true}, true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Send(ctx, "get-signals", nil)
	require.Error(t, err)
	var ce *errs.CancellationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.ReasonCancelled, ce.Reason)
}

func TestDuplicateResponseDropped(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.Resolve(Response{RN: 999, Success: true}) // no pending entry; must not panic
	assert.Equal(t, 0, s.Pending())
}
