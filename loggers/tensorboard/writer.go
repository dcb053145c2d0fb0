package tensorboard

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EventWriter appends scalar events to one events.out.tfevents file.
// It is not safe for concurrent use.
type EventWriter struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	buf  []byte
}

// NewEventWriter creates dir and an events file in it, and writes the file version record.
func NewEventWriter(dir string, now time.Time) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", now.Unix(), host))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &EventWriter{path: path, f: f, bw: bufio.NewWriter(f)}
	if err := w.write(encodeFileVersion(wallTime(now))); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path of the events file.
func (w *EventWriter) Path() string { return w.path }

// WriteScalars appends one event holding all values at step.
func (w *EventWriter) WriteScalars(now time.Time, step int64, values map[string]float64) error {
	return w.write(encodeScalars(wallTime(now), step, values))
}

func (w *EventWriter) write(event []byte) error {
	w.buf = appendRecord(w.buf[:0], event)
	_, err := w.bw.Write(w.buf)
	return err
}

// Flush writes buffered records to disk.
func (w *EventWriter) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the file.
func (w *EventWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func wallTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
