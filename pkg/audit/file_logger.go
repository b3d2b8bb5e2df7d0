package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileLogger appends audit events to a newline-delimited JSON file,
// rotating by size. Rotated files land next to the active one with a
// timestamp suffix.
type FileLogger struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
}

// FileLoggerConfig configures the file backend
type FileLoggerConfig struct {
	Path     string // Audit log file; rotations land in the same directory
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		Path:     "/var/log/bulkhead/audit.log",
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.Path == "" {
		config.Path = DefaultFileLoggerConfig().Path
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		path:     config.Path,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}

	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024 // 100MB default
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}

	return logger, nil
}

// openLogFile opens or creates the current log file, rotating first if it
// is already over the size limit.
func (l *FileLogger) openLogFile() error {
	if info, err := os.Stat(l.path); err == nil && info.Size() >= l.maxSize {
		if err := l.rotateFile(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)

	return nil
}

// rotatedName derives the timestamped name for a rotated file. The
// fractional seconds keep back-to-back rotations from colliding, and the
// format sorts lexicographically in chronological order.
func (l *FileLogger) rotatedName(now time.Time) string {
	base := filepath.Base(l.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	timestamp := now.Format("2006-01-02-15-04-05.000000000")
	return filepath.Join(filepath.Dir(l.path), fmt.Sprintf("%s-%s%s", stem, timestamp, ext))
}

// rotateFile moves the active file aside and prunes old rotations.
func (l *FileLogger) rotateFile() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if err := os.Rename(l.path, l.rotatedName(time.Now())); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := l.cleanupOldFiles(); err != nil {
		// Cleanup failure must not block the rotation itself
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}

	return nil
}

// cleanupOldFiles removes rotated files beyond the retention limit,
// oldest first.
func (l *FileLogger) cleanupOldFiles() error {
	base := filepath.Base(l.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	pattern := filepath.Join(filepath.Dir(l.path), fmt.Sprintf("%s-*%s", stem, ext))

	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	if len(files) > l.maxFiles {
		sort.Strings(files)
		for _, file := range files[:len(files)-l.maxFiles] {
			if err := os.Remove(file); err != nil {
				fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", file, err)
			}
		}
	}

	return nil
}

// Log appends an audit event to the file
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.openLogFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return nil
}

// Close closes the file logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}

	return nil
}

// ReadEvents reads events back from the active file, oldest first. A
// count of zero reads everything. Rotated files are not read.
func (l *FileLogger) ReadEvents(count int) ([]*Event, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	decoder := json.NewDecoder(file)

	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)

		if count > 0 && len(events) >= count {
			break
		}
	}

	return events, nil
}
