package imu

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/roboremote/internal/debug"
)

// MPU-6050 registers.
const (
	regAccelConfig = 0x1C
	regAccelXOutH  = 0x3B
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIValue = 0x68
)

// Conn is the register access used by the driver; *i2c.Dev satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// MPU6050 derives pitch from the accelerometer of an InvenSense MPU-6050.
type MPU6050 struct {
	mu     sync.Mutex
	dev    Conn
	active bool
}

// NewMPU6050 wraps an already opened device.
func NewMPU6050(dev Conn) *MPU6050 {
	return &MPU6050{dev: dev}
}

// OpenMPU6050 initializes periph, opens the I2C bus (empty name = first
// available) and returns the sensor plus the bus to close on shutdown.
func OpenMPU6050(busName string, addr uint16) (*MPU6050, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open I2C bus %q: %w", busName, err)
	}
	debug.Info("MPU-6050 on %s at %#x", bus, addr)
	return NewMPU6050(&i2c.Dev{Bus: bus, Addr: addr}), bus, nil
}

// Start wakes the sensor and selects the ±2g accelerometer range.
func (m *MPU6050) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	who := make([]byte, 1)
	if err := m.dev.Tx([]byte{regWhoAmI}, who); err != nil {
		return fmt.Errorf("mpu6050: read WHO_AM_I: %w", err)
	}
	if who[0] != whoAmIValue {
		debug.Warn("mpu6050: unexpected WHO_AM_I %#x, continuing", who[0])
	}
	if err := m.dev.Tx([]byte{regPwrMgmt1, 0x00}, nil); err != nil {
		return fmt.Errorf("mpu6050: wake: %w", err)
	}
	if err := m.dev.Tx([]byte{regAccelConfig, 0x00}, nil); err != nil {
		return fmt.Errorf("mpu6050: accel config: %w", err)
	}
	m.active = true
	return nil
}

// Stop puts the sensor to sleep.
func (m *MPU6050) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	m.active = false
	if err := m.dev.Tx([]byte{regPwrMgmt1, 0x40}, nil); err != nil {
		return fmt.Errorf("mpu6050: sleep: %w", err)
	}
	return nil
}

// Active reports whether Start succeeded and no bus error happened since.
func (m *MPU6050) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Read returns the pitch computed from one accelerometer sample. An all-zero
// sample (sensor not ready) is reported as no data. A bus error marks the
// source inactive so the pump restarts it.
func (m *MPU6050) Read() (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return Sample{}, ErrInactive
	}

	buf := make([]byte, 6)
	if err := m.dev.Tx([]byte{regAccelXOutH}, buf); err != nil {
		m.active = false
		return Sample{}, fmt.Errorf("mpu6050: read accel: %w", err)
	}
	ax := float64(int16(binary.BigEndian.Uint16(buf[0:2])))
	ay := float64(int16(binary.BigEndian.Uint16(buf[2:4])))
	az := float64(int16(binary.BigEndian.Uint16(buf[4:6])))
	if ax == 0 && ay == 0 && az == 0 {
		return Sample{}, nil
	}
	return Sample{Pitch: Pitch(ax, ay, az), OK: true}, nil
}

// Pitch returns the pitch angle in radians from accelerometer axes.
func Pitch(ax, ay, az float64) float64 {
	return math.Atan2(-ax, math.Sqrt(ay*ay+az*az))
}
