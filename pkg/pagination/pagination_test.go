package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	got, err := ParseCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor should be nil, got %v %v", c, err)
	}
	if _, err := ParseCursor("not base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := ParseCursor("bm8tc2VwYXJhdG9y"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 1000: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTrim(t *testing.T) {
	now := time.Now().UTC()
	rows := []Cursor{
		{CreatedAt: now, ID: uuid.New()},
		{CreatedAt: now.Add(-time.Second), ID: uuid.New()},
		{CreatedAt: now.Add(-2 * time.Second), ID: uuid.New()},
	}
	key := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 2, key)
	if len(page) != 2 || next == "" {
		t.Fatalf("expected 2 rows and a cursor, got %d %q", len(page), next)
	}
	cursor, err := ParseCursor(next)
	if err != nil {
		t.Fatalf("parse next: %v", err)
	}
	if cursor.ID != rows[1].ID {
		t.Fatalf("cursor should point at the last returned row")
	}

	page, next = Trim(rows, 5, key)
	if len(page) != 3 || next != "" {
		t.Fatalf("expected final page without cursor, got %d %q", len(page), next)
	}
}
