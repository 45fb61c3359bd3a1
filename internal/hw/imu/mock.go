package imu

import (
	"math"
	"sync"
	"time"
)

// Mock generates a slow sinusoidal wrist tilt. Scripted samples, when
// queued, are returned first.
type Mock struct {
	mu        sync.Mutex
	start     time.Time
	active    bool
	script    []Sample
	Amplitude float64       // radians
	Period    time.Duration // full left-right-left swing
	now       func() time.Time
}

// NewMock creates a mock source swinging ±0.15 rad every 8 seconds.
func NewMock() *Mock {
	return &Mock{
		Amplitude: 0.15,
		Period:    8 * time.Second,
		now:       time.Now,
	}
}

// Script queues samples to be returned by the next reads.
func (m *Mock) Script(samples ...Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, samples...)
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = m.now()
	m.active = true
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	return nil
}

func (m *Mock) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Mock) Read() (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return Sample{}, ErrInactive
	}
	if len(m.script) > 0 {
		s := m.script[0]
		m.script = m.script[1:]
		return s, nil
	}
	elapsed := m.now().Sub(m.start).Seconds()
	return Sample{
		Pitch: m.Amplitude * math.Sin(2*math.Pi*elapsed/m.Period.Seconds()),
		OK:    true,
	}, nil
}
