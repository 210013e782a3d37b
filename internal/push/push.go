// Package push delivers APNs notifications over the binary provider
// protocol. Delivery is fire-and-forget: the gateway only reports
// errors asynchronously, and this application does not read them.
package push

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxPayloadSize is the APNs limit for the JSON payload.
	maxPayloadSize = 256

	// deviceTokenSize is the raw token length; tokens arrive hex-encoded.
	deviceTokenSize = 32

	enhancedCommand = 1
)

var (
	ErrPayloadTooLarge = errors.New("push payload exceeds 256 bytes")
	ErrBadDeviceToken  = errors.New("device token must be 64 hex characters")
)

// Notification is one message for one device.
type Notification struct {
	DeviceToken string
	Alert       string
	Badge       int
	Sound       string
}

// Dispatcher sends notifications. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

type apsPayload struct {
	Aps aps `json:"aps"`
}

type aps struct {
	Alert string `json:"alert,omitempty"`
	Badge int    `json:"badge,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// Encode builds an enhanced-format provider frame: command, identifier,
// expiry, token, payload.
func Encode(n Notification, identifier uint32, expiry time.Time) ([]byte, error) {
	token, err := hex.DecodeString(n.DeviceToken)
	if err != nil || len(token) != deviceTokenSize {
		return nil, fmt.Errorf("%w: %q", ErrBadDeviceToken, n.DeviceToken)
	}

	payload, err := json.Marshal(apsPayload{Aps: aps{Alert: n.Alert, Badge: n.Badge, Sound: n.Sound}})
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	var frame bytes.Buffer
	frame.WriteByte(enhancedCommand)
	binary.Write(&frame, binary.BigEndian, identifier)
	binary.Write(&frame, binary.BigEndian, uint32(expiry.Unix()))
	binary.Write(&frame, binary.BigEndian, uint16(deviceTokenSize))
	frame.Write(token)
	binary.Write(&frame, binary.BigEndian, uint16(len(payload)))
	frame.Write(payload)
	return frame.Bytes(), nil
}

// Sender dispatches notifications to an APNs gateway over TLS. A new
// connection per send keeps the implementation simple; this application
// sends a handful of notifications per run, not a stream.
type Sender struct {
	gateway string
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	identifier atomic.Uint32
}

// NewSender creates a Sender for a gateway address like
// "gateway.push.apple.com:2195". The TLS client certificate identifies
// the app to Apple.
func NewSender(gateway string, cert tls.Certificate) *Sender {
	dialer := &tls.Dialer{Config: &tls.Config{Certificates: []tls.Certificate{cert}}}
	return &Sender{gateway: gateway, dial: dialer.DialContext}
}

// Send implements Dispatcher. Notifications expire an hour after
// sending if the device is unreachable.
func (s *Sender) Send(ctx context.Context, n Notification) error {
	frame, err := Encode(n, s.identifier.Add(1), time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	conn, err := s.dial(ctx, "tcp", s.gateway)
	if err != nil {
		return fmt.Errorf("failed to reach push gateway: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write push frame: %w", err)
	}
	return nil
}

// Fake records notifications instead of sending them.
type Fake struct {
	mu   sync.Mutex
	sent []Notification
}

// Send implements Dispatcher.
func (f *Fake) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (f *Fake) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}
