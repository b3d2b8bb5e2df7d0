package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiLogger_Sync(t *testing.T) {
	first := &captureBackend{}
	second := &captureBackend{}

	multi := NewMultiLogger(first, second)
	multi.SetAsync(false)

	err := multi.Log(context.Background(), &Event{EventType: EventTypeAccessGranted, Status: EventStatusSuccess})
	require.NoError(t, err)

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestMultiLogger_SyncFirstErrorReported(t *testing.T) {
	first := &captureBackend{err: errors.New("backend down")}
	second := &captureBackend{}

	multi := NewMultiLogger(first, second)
	multi.SetAsync(false)

	err := multi.Log(context.Background(), &Event{EventType: EventTypeAccessDenied, Status: EventStatusDenied})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	// A failing backend must not starve the others.
	assert.Len(t, second.Events(), 1)
}

func TestMultiLogger_Async(t *testing.T) {
	first := &captureBackend{}
	second := &captureBackend{}

	multi := NewMultiLogger(first, second)

	for i := 0; i < 3; i++ {
		require.NoError(t, multi.Log(context.Background(), &Event{EventType: EventTypeAccessGranted, Status: EventStatusSuccess}))
	}
	multi.Wait()

	assert.Len(t, first.Events(), 3)
	assert.Len(t, second.Events(), 3)
}

func TestMultiLogger_AsyncCollectsErrors(t *testing.T) {
	failing := &captureBackend{err: errors.New("disk full")}

	multi := NewMultiLogger(failing)

	require.NoError(t, multi.Log(context.Background(), &Event{EventType: EventTypeAccessGranted, Status: EventStatusSuccess}))
	multi.Wait()

	errs := multi.GetErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "disk full")
}

func TestMultiLogger_AsyncOutlivesCaller(t *testing.T) {
	backend := &captureBackend{}
	multi := NewMultiLogger(backend)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, multi.Log(ctx, &Event{EventType: EventTypeAccessGranted, Status: EventStatusSuccess}))
	cancel()
	multi.Wait()

	events := backend.Events()
	require.Len(t, events, 1)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.NoError(t, backend.lastCtxErr, "delivery context must be detached from the caller")
}

func TestMultiLogger_NoBackends(t *testing.T) {
	multi := NewMultiLogger()
	assert.NoError(t, multi.Log(context.Background(), &Event{EventType: EventTypeAccessGranted}))
	assert.NoError(t, multi.Close())
}

func TestMultiLogger_Close(t *testing.T) {
	first := &captureBackend{}
	second := &captureBackend{}

	multi := NewMultiLogger(first, second)
	require.NoError(t, multi.Log(context.Background(), &Event{EventType: EventTypeAccessGranted, Status: EventStatusSuccess}))
	require.NoError(t, multi.Close())

	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.Len(t, first.Events(), 1, "Close must wait for in-flight deliveries")
}
