package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiLogger fans audit events out to several backends, so a deployment
// can keep a queryable Postgres trail and an append-only file at once.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a fan-out over the given backends. Delivery is
// asynchronous by default.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   true,
		errChan: make(chan error, len(loggers)),
	}
}

// SetAsync sets whether delivery should be asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers an audit event to all configured backends
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if len(m.loggers) == 0 {
		return nil
	}

	if m.async {
		return m.logAsync(ctx, event)
	}

	return m.logSync(ctx, event)
}

// logSync delivers to every backend in turn. The first error is returned;
// later backends still receive the event.
func (m *MultiLogger) logSync(ctx context.Context, event *Event) error {
	var firstErr error

	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// logAsync delivers on goroutines that outlive the caller's deadline; the
// context is detached so a write in flight is not cut off when the
// originating request finishes.
func (m *MultiLogger) logAsync(ctx context.Context, event *Event) error {
	ctx = context.WithoutCancel(ctx)

	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop error
				}
			}
		}(logger)
	}

	return nil
}

// Wait blocks until all in-flight async deliveries complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// GetErrors drains and returns errors from async deliveries
func (m *MultiLogger) GetErrors() []error {
	var errors []error
	for {
		select {
		case err := <-m.errChan:
			errors = append(errors, err)
		default:
			return errors
		}
	}
}

// Close waits for pending deliveries and closes all backends
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to close logger: %w", err)
			}
		}
	}

	close(m.errChan)
	return firstErr
}
