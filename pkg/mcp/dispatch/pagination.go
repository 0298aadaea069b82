package dispatch

import (
	"encoding/base64"
	"fmt"
)

// encodeCursor produces the opaque cursor spec §4.6 defines: base64 of
// "offset=N".
func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset=%d", offset)))
}

// decodeCursor parses a cursor previously produced by encodeCursor. Any
// malformed or unrecognized cursor is treated as offset 0, with ok=false
// so the caller can log a warning (spec: "invalid cursors are treated as
// offset=0 and logged at warning").
func decodeCursor(cursor string) (offset int, ok bool) {
	if cursor == "" {
		return 0, true
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, false
	}
	n, err := fmt.Sscanf(string(raw), "offset=%d", &offset)
	if err != nil || n != 1 {
		return 0, false
	}
	return offset, true
}

// page slices items[offset:offset+limit] and computes the next cursor,
// present iff there is more to return.
func page[T any](items []T, offset, limit int) (slice []T, nextCursor string) {
	if offset < 0 || offset >= len(items) {
		return nil, ""
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	slice = items[offset:end]
	if end < len(items) {
		nextCursor = encodeCursor(end)
	}
	return slice, nextCursor
}
