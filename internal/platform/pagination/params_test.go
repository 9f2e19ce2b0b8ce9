package pagination

import (
	"errors"
	"fmt"
	"testing"
)

func TestParsePageSizeDefaults(t *testing.T) {
	size, err := ParsePageSize("", 0, 0)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, size)
	}

	size, err = ParsePageSize("   ", 35, 0)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != 35 {
		t.Fatalf("expected fallback 35 got %d", size)
	}
}

func TestParsePageSizeBounds(t *testing.T) {
	size, err := ParsePageSize("30", 25, 40)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != 30 {
		t.Fatalf("expected page size 30 got %d", size)
	}

	if _, err := ParsePageSize("400", 25, 40); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for value above max got %v", err)
	}
	if _, err := ParsePageSize("0", 25, 40); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for zero got %v", err)
	}
	if _, err := ParsePageSize("abc", 25, 40); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for non-integer got %v", err)
	}
}

func TestParsePageSizeFallbackClamped(t *testing.T) {
	size, err := ParsePageSize("", 90, 40)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != 40 {
		t.Fatalf("expected fallback clamped to 40 got %d", size)
	}
}

func TestEncodeDecodeToken(t *testing.T) {
	cursor := Cursor{StartAfter: []any{"id-1"}, StartAt: []any{123}}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if got := len(decoded.StartAfter); got != len(cursor.StartAfter) {
		t.Fatalf("expected startAfter length %d got %d", len(cursor.StartAfter), got)
	}
	if s, ok := decoded.StartAfter[0].(string); !ok || s != "id-1" {
		t.Fatalf("expected first cursor value %q got %#v", "id-1", decoded.StartAfter[0])
	}
	if got := len(decoded.StartAt); got != len(cursor.StartAt) {
		t.Fatalf("expected startAt length %d got %d", len(cursor.StartAt), got)
	}
	if fmt.Sprint(decoded.StartAt[0]) != "123" {
		t.Fatalf("expected numeric startAt value %q got %#v", "123", decoded.StartAt[0])
	}

	emptyToken, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken for empty cursor returned error: %v", err)
	}
	if emptyToken != "" {
		t.Fatalf("expected empty token got %q", emptyToken)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("not-base64!!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}

	empty, err := DecodeToken("   ")
	if err != nil {
		t.Fatalf("DecodeToken for blank token returned error: %v", err)
	}
	if len(empty.StartAfter) != 0 || len(empty.StartAt) != 0 {
		t.Fatalf("expected zero cursor got %#v", empty)
	}
}
