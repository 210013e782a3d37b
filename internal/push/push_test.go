package push

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = strings.Repeat("ab", 32)

func TestEncodeFrameLayout(t *testing.T) {
	expiry := time.Date(2011, 4, 1, 12, 0, 0, 0, time.UTC)
	frame, err := Encode(Notification{
		DeviceToken: testToken,
		Alert:       "2 new transactions",
		Badge:       2,
		Sound:       "default",
	}, 7, expiry)
	require.NoError(t, err)

	assert.Equal(t, byte(1), frame[0], "enhanced format command")
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(frame[1:5]))
	assert.Equal(t, uint32(expiry.Unix()), binary.BigEndian.Uint32(frame[5:9]))
	assert.Equal(t, uint16(32), binary.BigEndian.Uint16(frame[9:11]))

	rawToken, _ := hex.DecodeString(testToken)
	assert.Equal(t, rawToken, frame[11:43])

	payloadLen := binary.BigEndian.Uint16(frame[43:45])
	payload := frame[45:]
	require.Len(t, payload, int(payloadLen))

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "2 new transactions", decoded["aps"]["alert"])
	assert.Equal(t, float64(2), decoded["aps"]["badge"])
	assert.Equal(t, "default", decoded["aps"]["sound"])
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	frame, err := Encode(Notification{DeviceToken: testToken, Alert: "hi"}, 1, time.Now())
	require.NoError(t, err)

	payload := string(frame[45:])
	assert.NotContains(t, payload, "badge")
	assert.NotContains(t, payload, "sound")
}

func TestEncodeRejectsBadTokens(t *testing.T) {
	tests := []string{"", "zz", strings.Repeat("ab", 16), "not hex at all"}
	for _, token := range tests {
		_, err := Encode(Notification{DeviceToken: token, Alert: "x"}, 1, time.Now())
		assert.ErrorIs(t, err, ErrBadDeviceToken, "token %q", token)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Notification{
		DeviceToken: testToken,
		Alert:       strings.Repeat("x", 300),
	}, 1, time.Now())
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSenderWritesFrame(t *testing.T) {
	client, server := net.Pipe()
	s := &Sender{
		gateway: "test:2195",
		dial: func(context.Context, string, string) (net.Conn, error) {
			return client, nil
		},
	}

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := server.Read(buf)
		received <- buf[:n]
	}()

	require.NoError(t, s.Send(context.Background(), Notification{DeviceToken: testToken, Alert: "hi"}))

	frame := <-received
	assert.Equal(t, byte(1), frame[0])
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(frame[1:5]), "identifiers start at 1")
}

func TestFakeRecords(t *testing.T) {
	f := &Fake{}
	require.NoError(t, f.Send(context.Background(), Notification{DeviceToken: testToken, Alert: "a"}))
	require.NoError(t, f.Send(context.Background(), Notification{DeviceToken: testToken, Alert: "b"}))

	sent := f.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "b", sent[1].Alert)
}
