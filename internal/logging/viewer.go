package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// LogEntry represents a parsed JSON log line.
type LogEntry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Msg     string                 `json:"msg"`
	Attrs   map[string]interface{} `json:"-"` // Additional attributes
	Raw     string                 `json:"-"` // Original line
	IsValid bool                   `json:"-"` // Whether JSON parsing succeeded
}

// ViewerConfig configures the log viewer.
type ViewerConfig struct {
	Level   string         // Minimum level to show (debug, info, warn, error)
	Pattern *regexp.Regexp // Only show lines matching this pattern
}

// Viewer reads and filters the daemon's JSON logs.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a new log viewer.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail reads the last n lines from a log file and returns matching entries.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	const maxCapacity = 1024 * 1024 // Long attribute values
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	var entries []LogEntry
	for _, line := range lines {
		entry := parseLine(line)
		if v.matchesFilter(entry) {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// Follow watches a log file for new entries and sends matches to the
// channel until the context is cancelled. The file is polled; rotation
// replaces the inode, so a shrinking file triggers a reopen.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err == nil && info.Size() < offset {
				// Rotated: start over from the new file
				_ = file.Close()
				file, err = os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to reopen rotated log: %w", err)
				}
				reader = bufio.NewReader(file)
				offset = 0
			}

			for {
				line, err := reader.ReadString('\n')
				if len(line) > 0 {
					offset += int64(len(line))
					entry := parseLine(strings.TrimRight(line, "\n"))
					if v.matchesFilter(entry) {
						select {
						case entries <- entry:
						case <-ctx.Done():
							return nil
						}
					}
				}
				if err != nil {
					break // io.EOF: wait for more
				}
			}
		}
	}
}

// Print writes entries in a compact human-readable form.
func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		v.PrintEntry(e)
	}
}

// PrintEntry writes one entry.
func (v *Viewer) PrintEntry(e LogEntry) {
	if !e.IsValid {
		fmt.Fprintln(v.out, e.Raw)
		return
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(e.Level)))
	b.WriteByte(' ')
	b.WriteString(e.Msg)
	for k, val := range e.Attrs {
		b.WriteString(fmt.Sprintf(" %s=%v", k, val))
	}
	fmt.Fprintln(v.out, b.String())
}

// parseLine parses one JSON log line. Lines that are not JSON are kept
// raw so nothing silently disappears from the view.
func parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry
	}
	entry.IsValid = true

	if ts, ok := fields["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	if level, ok := fields["level"].(string); ok {
		entry.Level = level
	}
	if msg, ok := fields["msg"].(string); ok {
		entry.Msg = msg
	}

	delete(fields, "time")
	delete(fields, "level")
	delete(fields, "msg")
	if len(fields) > 0 {
		entry.Attrs = fields
	}

	return entry
}

// matchesFilter reports whether an entry passes the configured filters.
func (v *Viewer) matchesFilter(e LogEntry) bool {
	if v.config.Level != "" && e.IsValid {
		if LevelFromString(e.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// LevelAttr is a convenience for tests and callers that need the slog
// level of an entry.
func (e LogEntry) LevelAttr() slog.Level {
	return LevelFromString(e.Level)
}
