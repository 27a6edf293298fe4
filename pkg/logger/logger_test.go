package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithOrderID(ctx, "order-9")

	log.Error(ctx, "boom", errors.New("boom"))

	for _, field := range []string{`"request_id":"req-123"`, `"order_id":"order-9"`, `"stack"`} {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Fatalf("expected %s in entry=%s", field, buf.String())
		}
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	log = New(Options{ServiceName: "test", Output: buf})
	log.Warn(context.Background(), "quiet")
	if bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("stack should be omitted by default")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %v", lvl)
	}
}

func TestMaskPhone(t *testing.T) {
	cases := map[string]string{
		"254712345678": "2547******78",
		"0712345678":   "0712****78",
		"12345":        "*****",
		"":             "",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFieldsDoNotLeakAcrossContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithField(context.Background(), "job", "reservation-sweeper")
	_ = log.WithPhone(parent, "254712345678")
	log.Info(parent, "tick")

	if bytes.Contains(buf.Bytes(), []byte(`"phone"`)) {
		t.Fatalf("child field leaked into parent entry: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"job":"reservation-sweeper"`)) {
		t.Fatalf("expected parent field in entry: %s", buf.String())
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	ctx := log.WithRequestID(context.Background(), "r-1")
	log.Error(ctx, "ignored", errors.New("boom"))
}
