package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrInvalidCursor is returned when a cursor token cannot be decoded. Callers
// must treat it as a client error, never as an empty result.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor pins a position in the total order of one sort key. Fields holds the
// sort columns' values for the last returned row, in seek-column order,
// excluding the trailing id.
type Cursor struct {
	Sort   Sort     `json:"sort"`
	Fields []string `json:"fields"`
	ID     string   `json:"id"`
}

// EncodeCursor serializes a cursor to an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token decodes
// to nil (no cursor); anything malformed fails with ErrInvalidCursor.
func DecodeCursor(raw string) (*Cursor, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, ErrInvalidCursor
	}
	if c.Sort == "" || c.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}
