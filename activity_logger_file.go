package asynctask

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileActivityLogger is an implementation of ActivityLogger that logs to a file.
// A file is created per execution. The file is formatted as newline-delimited JSON.
type FileActivityLogger struct {
	fs        afero.Fs
	directory string
	mutex     sync.Mutex
}

// NewFileActivityLogger returns a logger writing under directory on fs. A nil
// fs means the operating system filesystem.
func NewFileActivityLogger(fs afero.Fs, directory string) *FileActivityLogger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileActivityLogger{fs: fs, directory: directory}
}

func (l *FileActivityLogger) executionActivityLogPath(executionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (l *FileActivityLogger) GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error) {
	data, err := afero.ReadFile(l.fs, l.executionActivityLogPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []*ActivityLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry ActivityLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (l *FileActivityLogger) LogActivity(ctx context.Context, entry *ActivityLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	filePath := l.executionActivityLogPath(entry.ExecutionID)
	if err := l.fs.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := l.fs.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
