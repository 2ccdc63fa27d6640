// Package pagination implements opaque cursors over ordered collections.
// A cursor encodes an integer offset into a stable iteration; clients must
// treat it as opaque and the server rejects anything it did not produce.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// DefaultPageSize is used when the server does not configure its own.
const DefaultPageSize = 50

// cursorPrefix guards against callers feeding arbitrary base64 back in.
const cursorPrefix = "o:"

// EncodeCursor encodes a non-negative offset deterministically.
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor decodes a cursor produced by EncodeCursor. An empty cursor
// is offset zero. Anything malformed is an InvalidParams error.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, invalidCursor(cursor)
	}
	s := string(raw)
	if len(s) < len(cursorPrefix) || s[:len(cursorPrefix)] != cursorPrefix {
		return 0, invalidCursor(cursor)
	}
	offset, err := strconv.Atoi(s[len(cursorPrefix):])
	if err != nil || offset < 0 {
		return 0, invalidCursor(cursor)
	}
	return offset, nil
}

func invalidCursor(cursor string) error {
	return protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid cursor %q", cursor))
}

// Page slices one page out of an ordered collection. It returns the page
// and the next cursor, empty when the iteration is exhausted.
func Page[T any](items []T, cursor string, pageSize int) ([]T, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset >= len(items) {
		return []T{}, "", nil
	}

	end := offset + pageSize
	if end >= len(items) {
		return items[offset:], "", nil
	}
	return items[offset:end], EncodeCursor(end), nil
}
