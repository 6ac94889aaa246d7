package pagination

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 5, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(in)
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token is not URL safe: %q", token)
	}
	out, err := ParseCursor(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be the first page, got %v %v", c, err)
	}
	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y"} {
		if _, err := ParseCursor(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 500: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
