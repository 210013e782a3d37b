package trace

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultiFansOut(t *testing.T) {
	var a, b []Event
	sink := Multi(
		SinkFunc(func(e Event) { a = append(a, e) }),
		SinkFunc(func(e Event) { b = append(b, e) }),
	)

	Emit(sink, "login", "posting credentials")
	EmitErr(sink, "export", "statement download", errors.New("boom"))

	assert.Len(t, a, 2)
	assert.Len(t, b, 2)
	assert.Equal(t, "login", a[0].Step)
	assert.Error(t, b[1].Err)
}

func TestWriterSinkFormatsLines(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	at := time.Date(2011, 4, 1, 9, 30, 15, 0, time.UTC)
	sink.Record(Event{Time: at, Step: "login", Detail: "posting credentials"})
	sink.Record(Event{Time: at, Step: "export", Detail: "statement download", Err: errors.New("timed out")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "09:30:15 login: posting credentials", lines[0])
	assert.Equal(t, "09:30:15 export: statement download: timed out", lines[1])
}

func TestNopDiscards(t *testing.T) {
	// Must not panic.
	Emit(Nop(), "step", "detail")
}
