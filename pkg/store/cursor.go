package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Cursor is the position of the last item of a page. Rows with equal tsMs are
// ordered by their insertion sequence so pages never skip or repeat.
type Cursor struct {
	TsMs int64
	Seq  int64
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.TsMs, c.Seq)
}

// ParseCursor accepts "<tsMs>:<seq>" as produced by Cursor.String, or a bare
// "<tsMs>" which resumes strictly after that timestamp.
func ParseCursor(s string) (Cursor, error) {
	tsPart, seqPart, hasSeq := strings.Cut(strings.TrimSpace(s), ":")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return Cursor{}, errors.Wrapf(err, "invalid cursor %q", s)
	}
	if !hasSeq {
		return Cursor{TsMs: ts, Seq: math.MaxInt64}, nil
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return Cursor{}, errors.Wrapf(err, "invalid cursor %q", s)
	}
	return Cursor{TsMs: ts, Seq: seq}, nil
}

type Page[T any] struct {
	Items []T `json:"items"`
	// NextCursor is empty on the last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

type SampleQuery struct {
	SessionID string
	StartTsMs int64
	// EndTsMs is exclusive; nil leaves the range open ended.
	EndTsMs *int64
	Limit   int
	After   *Cursor
}

type EventQuery struct {
	SessionID string
	StartTsMs int64
	EndTsMs   *int64
	Limit     int
	After     *Cursor
	EventType string
}
