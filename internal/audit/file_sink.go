package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const monthLayout = "2006-01"

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

var ErrInvalidMonth = errors.New("month must be YYYY-MM")

// FileSink appends one JSON line per event to <dir>/<YYYY-MM>.jsonl, the
// month taken from the event timestamp in UTC.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Append(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(s.monthPath(event.Timestamp.UTC().Format(monthLayout)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}

// ReadMonth returns the newest events of a month first, at most limit when limit > 0.
// Lines that fail to parse are skipped.
func (s *FileSink) ReadMonth(ctx context.Context, month string, limit int) ([]Event, error) {
	if !monthPattern.MatchString(month) {
		return nil, ErrInvalidMonth
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.monthPath(month))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	events := []Event{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// CurrentMonth formats t as YYYY-MM in UTC.
func CurrentMonth(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

func (s *FileSink) monthPath(month string) string {
	return filepath.Join(s.dir, month+".jsonl")
}
