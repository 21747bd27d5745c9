package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lapse/pkg/expiry"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
	events     []Event
}

func (m *mockEmitter) Emit(_ context.Context, event Event) error {
	m.emitCalls++
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func stopEvent() Event {
	return Event{Action: expiry.ActionStop, InstanceID: "i-123", Time: time.Now()}
}

func TestMultiEmitter_Emit(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), stopEvent())

	require.NoError(t, err)
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
	require.Len(t, e1.events, 1)
	assert.Equal(t, "i-123", e1.events[0].InstanceID)
	assert.Equal(t, 2, multi.Len())
}

func TestMultiEmitter_Emit_ErrorDoesNotStopFanOut(t *testing.T) {
	e1 := &mockEmitter{emitErr: errors.New("emit failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), stopEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "emit failed")
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls, "second emitter still receives the event")
}

func TestMultiEmitter_Close(t *testing.T) {
	e1 := &mockEmitter{closeErr: errors.New("close failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Close()

	require.Error(t, err)
	assert.Equal(t, 1, e1.closeCalls)
	assert.Equal(t, 1, e2.closeCalls)
}

func TestMultiEmitter_Empty(t *testing.T) {
	multi := NewMultiEmitter()
	assert.NoError(t, multi.Emit(context.Background(), stopEvent()))
	assert.NoError(t, multi.Close())
}

func TestNop(t *testing.T) {
	var e Emitter = Nop{}
	assert.NoError(t, e.Emit(context.Background(), stopEvent()))
	assert.NoError(t, e.Close())
}

func TestBreakerEmitter_OpensAfterThreshold(t *testing.T) {
	next := &mockEmitter{emitErr: errors.New("bus down")}
	b := NewBreakerEmitter("test", next, 2, time.Minute)

	ctx := context.Background()
	require.Error(t, b.Emit(ctx, stopEvent()))
	require.Error(t, b.Emit(ctx, stopEvent()))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Emit(ctx, stopEvent())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.emitCalls, "open breaker does not call through")
}

func TestBreakerEmitter_PassesThrough(t *testing.T) {
	next := &mockEmitter{}
	b := NewBreakerEmitter("test", next, 3, 0)

	require.NoError(t, b.Emit(context.Background(), stopEvent()))
	assert.Equal(t, 1, next.emitCalls)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	require.NoError(t, b.Close())
	assert.Equal(t, 1, next.closeCalls)
}
