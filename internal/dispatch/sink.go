// Package dispatch pushes control commands to the suitcase without ever
// blocking the control loop.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/cjeanneret/roboremote/internal/logic/control"
)

// Sink delivers one command to the suitcase.
type Sink interface {
	Send(ctx context.Context, cmd control.Command) error
	Close() error
}

// HTTPSink issues GET <endpoint>?angle=<int>&speed=<decimal>. The response
// body is drained and discarded; the status code is not inspected.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink for endpoint (e.g. "http://host/motor").
// A zero timeout leaves the client default.
func NewHTTPSink(endpoint string, timeout time.Duration) (*HTTPSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return &HTTPSink{
		endpoint: u.Scheme + "://" + u.Host + u.Path,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// URL returns the request URL for cmd.
func (s *HTTPSink) URL(cmd control.Command) string {
	return s.endpoint + "?" + EncodeQuery(cmd)
}

func (s *HTTPSink) Send(ctx context.Context, cmd control.Command) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(cmd), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// EncodeQuery renders the motor query string. The speed keeps its full
// decimal expansion without exponent notation.
func EncodeQuery(cmd control.Command) string {
	return "angle=" + strconv.Itoa(cmd.Angle) + "&speed=" + decimal.NewFromFloat(cmd.Speed).String()
}

// CANSink writes one frame per command on a SocketCAN interface.
type CANSink struct {
	id   uint32
	conn net.Conn
	tx   *socketcan.Transmitter
}

// DialCAN opens iface (e.g. "can0") and returns a sink sending frames with id.
func DialCAN(ctx context.Context, iface string, id uint32) (*CANSink, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return &CANSink{id: id, conn: conn, tx: socketcan.NewTransmitter(conn)}, nil
}

func (s *CANSink) Send(ctx context.Context, cmd control.Command) error {
	return s.tx.TransmitFrame(ctx, EncodeFrame(s.id, cmd))
}

func (s *CANSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// EncodeFrame packs cmd as: byte 0 angle, bytes 1-2 speed*100 little endian.
func EncodeFrame(id uint32, cmd control.Command) can.Frame {
	angle := cmd.Angle
	if angle < 0 {
		angle = 0
	} else if angle > 255 {
		angle = 255
	}
	speed := uint16(0)
	if cmd.Speed > 0 {
		speed = uint16(min(math.Round(cmd.Speed*100), 65535))
	}
	f := can.Frame{ID: id, Length: 3}
	f.Data[0] = uint8(angle)
	f.Data[1] = uint8(speed)
	f.Data[2] = uint8(speed >> 8)
	return f
}

// DecodeFrame is the inverse of EncodeFrame, used by bench tools.
func DecodeFrame(f can.Frame) control.Command {
	speed := uint16(f.Data[1]) | uint16(f.Data[2])<<8
	return control.Command{Angle: int(f.Data[0]), Speed: float64(speed) / 100}
}
