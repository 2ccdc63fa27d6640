package pagination

import (
	"errors"
	"testing"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 49, 50, 1000, 1 << 30} {
		cursor := EncodeCursor(offset)
		got, err := DecodeCursor(cursor)
		if err != nil {
			t.Fatalf("DecodeCursor(%q) error = %v", cursor, err)
		}
		if got != offset {
			t.Errorf("expected offset %d, got %d", offset, got)
		}
	}
}

func TestEncodeCursorDeterministic(t *testing.T) {
	if EncodeCursor(42) != EncodeCursor(42) {
		t.Error("same offset must encode to the same cursor")
	}
}

func TestDecodeCursorRejectsForeignInput(t *testing.T) {
	tests := []string{
		"not base64 !!!",
		"aGVsbG8",        // valid base64, wrong payload
		EncodeCursor(3) + "x",
	}

	for _, cursor := range tests {
		_, err := DecodeCursor(cursor)
		var rpcErr *protocol.Error
		if !errors.As(err, &rpcErr) {
			t.Fatalf("DecodeCursor(%q): expected *protocol.Error, got %v", cursor, err)
		}
		if rpcErr.Code != protocol.ErrCodeInvalidParams {
			t.Errorf("DecodeCursor(%q): expected code %d, got %d", cursor, protocol.ErrCodeInvalidParams, rpcErr.Code)
		}
	}
}

func TestDecodeCursorEmptyIsStart(t *testing.T) {
	offset, err := DecodeCursor("")
	if err != nil || offset != 0 {
		t.Errorf("expected offset 0 for empty cursor, got %d, %v", offset, err)
	}
}

func TestPage(t *testing.T) {
	items := make([]int, 0, 120)
	for i := 0; i < 120; i++ {
		items = append(items, i)
	}

	var got []int
	cursor := ""
	pages := 0
	for {
		page, next, err := Page(items, cursor, 50)
		if err != nil {
			t.Fatalf("Page() error = %v", err)
		}
		got = append(got, page...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if len(got) != 120 {
		t.Fatalf("expected 120 items, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected item %d at position %d, got %d", i, i, v)
		}
	}
}

func TestPagePastEnd(t *testing.T) {
	page, next, err := Page([]int{1, 2, 3}, EncodeCursor(10), 50)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(page) != 0 || next != "" {
		t.Errorf("expected empty final page, got %v next %q", page, next)
	}
}
