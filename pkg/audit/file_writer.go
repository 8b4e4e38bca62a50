package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const activityFileName = "activity.log"

// FileWriter mirrors entries to a JSON-lines file with size-based rotation
type FileWriter struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
}

// FileWriterConfig configures the JSONL mirror
type FileWriterConfig struct {
	BasePath string // Directory for activity logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultFileWriterConfig returns the default mirror configuration
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		BasePath: "/var/log/clinicauth/activity",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileWriter opens (or creates) the mirror file under config.BasePath
func NewFileWriter(config FileWriterConfig) (*FileWriter, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("activity log directory is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory: %w", err)
	}

	w := &FileWriter{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if w.maxSize == 0 {
		w.maxSize = 100 * 1024 * 1024
	}
	if w.maxFiles == 0 {
		w.maxFiles = 10
	}

	if err := w.openLogFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the active file path
func (w *FileWriter) Path() string {
	return filepath.Join(w.basePath, activityFileName)
}

func (w *FileWriter) openLogFile() error {
	filename := w.Path()

	if w.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= w.maxSize {
			if err := w.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate activity log: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open activity log: %w", err)
	}

	w.file = file
	w.encoder = json.NewEncoder(file)
	return nil
}

func (w *FileWriter) rotateFile() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(w.basePath, fmt.Sprintf("activity-%s.log", timestamp))
	if err := os.Rename(w.Path(), rotated); err != nil {
		return fmt.Errorf("failed to rename activity log: %w", err)
	}

	return w.cleanupOldFiles()
}

func (w *FileWriter) cleanupOldFiles() error {
	files, err := w.RotatedFiles()
	if err != nil {
		return err
	}

	if len(files) > w.maxFiles {
		for _, file := range files[:len(files)-w.maxFiles] {
			if err := os.Remove(file); err != nil {
				return fmt.Errorf("failed to remove old activity log %s: %w", file, err)
			}
		}
	}
	return nil
}

// RotatedFiles lists rotated files, oldest first
func (w *FileWriter) RotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(w.basePath, "activity-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Append writes one JSON line
func (w *FileWriter) Append(ctx context.Context, entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("activity log is closed")
	}

	if w.rotate {
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.maxSize {
			if err := w.openLogFile(); err != nil {
				return err
			}
		}
	}

	if err := w.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write activity log: %w", err)
	}
	return nil
}

// Close closes the file
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
