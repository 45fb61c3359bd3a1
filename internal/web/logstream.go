package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// logHistory is how many recent lines a new status stream client receives.
const logHistory = 50

// LogEvent is one debug line as sent on the status stream.
type LogEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// LogStream fans debug output out to status stream clients. It keeps the
// last lines so a freshly opened dashboard is not empty.
type LogStream struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
}

func NewLogStream() *LogStream {
	return &LogStream{clients: make(map[chan string]struct{})}
}

// Subscribe returns a channel primed with recent history and a cleanup
// function that must be called when the client goes away.
func (s *LogStream) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64+logHistory)
	s.mu.Lock()
	for _, line := range s.history {
		ch <- line
	}
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.clients, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends one event to every client. Slow clients miss events.
func (s *LogStream) Publish(level, msg string) {
	data, err := json.Marshal(LogEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, payload)
	if len(s.history) > logHistory {
		s.history = s.history[len(s.history)-logHistory:]
	}
	for ch := range s.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Clients returns the number of connected status stream clients.
func (s *LogStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Write implements io.Writer so the stream can be passed to debug.SetOutput.
// Each line becomes one event; its level is taken from the debug tag.
func (s *LogStream) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.Publish(levelOf(line), line)
	}
	return len(p), nil
}

func levelOf(line string) string {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return "error"
	case strings.Contains(line, "[WARN]"):
		return "warn"
	case strings.Contains(line, "[VERBOSE]"), strings.Contains(line, "[TRACE]"), strings.Contains(line, "[GPIO]"):
		return "debug"
	default:
		return "info"
	}
}
