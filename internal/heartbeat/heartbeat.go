// Package heartbeat maintains a liveness file for the dayflow serve process,
// so the status command can tell a running daemon from a crashed one.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// State classifies a probe result.
type State string

const (
	StateAlive State = "alive"
	StateStale State = "stale"
	StateDead  State = "dead"
)

// Beat is the payload written to the liveness file.
type Beat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer refreshes the liveness file on an interval.
type Writer struct {
	path     string
	interval time.Duration
	started  time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a writer for path, refreshing every interval.
func NewWriter(path string, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Writer{path: path, interval: interval}
}

// Start writes the first beat immediately and keeps refreshing until Stop.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.started = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.write()

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.write()
			case <-stop:
				return
			}
		}
	}(w.stop, w.done)
}

// Stop halts the refresh loop and removes the file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
	os.Remove(w.path)
}

func (w *Writer) write() {
	beat := Beat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	data, err := json.MarshalIndent(beat, "", "  ")
	if err != nil {
		return
	}
	// tmp + rename keeps probes from observing a torn write
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// Probe reads the liveness file. A beat older than maxAge is stale; a
// missing file means no daemon is running.
func Probe(path string, maxAge time.Duration) (State, *Beat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StateDead, nil, nil
		}
		return StateDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}
	var beat Beat
	if err := json.Unmarshal(data, &beat); err != nil {
		return StateDead, nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	if time.Since(beat.Timestamp) > maxAge {
		return StateStale, &beat, nil
	}
	return StateAlive, &beat, nil
}
