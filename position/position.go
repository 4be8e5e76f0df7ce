// Package position converts between byte offsets and line/column positions
// and normalizes archive member URIs.
//
// Positions are counted in raw bytes: a '\n' byte starts a new line and every
// other byte advances the column by one. Nothing here decodes UTF-8 or counts
// UTF-16 code units; callers are responsible for using units that match the
// protocol they speak.
package position

import (
	"fmt"
)

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Before reports whether p comes strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Point returns the empty range located at p.
func Point(p Position) Range {
	return Range{Start: p, End: p}
}

// OffsetToPosition returns the position of byte offset off in b. Offsets
// equal to len(b) address the end of the buffer.
func OffsetToPosition(b []byte, off int) (Position, error) {
	if off < 0 || off > len(b) {
		return Position{}, fmt.Errorf("offset %d out of range [0, %d]", off, len(b))
	}
	line, col := 0, 0
	for i := 0; i < off; i++ {
		col++
		if b[i] == '\n' {
			line++
			col = 0
		}
	}
	return Position{Line: line, Character: col}, nil
}

// PositionToOffset returns the byte offset of p in b. It fails if p is never
// reached while scanning b, which includes columns past the end of a line.
func PositionToOffset(b []byte, p Position) (int, error) {
	if p.Line < 0 || p.Character < 0 {
		return 0, fmt.Errorf("position %s is negative", p)
	}
	line, col := 0, 0
	for i := 0; i <= len(b); i++ {
		if line == p.Line && col == p.Character {
			return i, nil
		}
		if i == len(b) || line > p.Line {
			break
		}
		col++
		if b[i] == '\n' {
			line++
			col = 0
		}
	}
	return 0, fmt.Errorf("position %s is beyond the end of the buffer", p)
}

// RangeToOffsets converts both ends of r.
func RangeToOffsets(b []byte, r Range) (int, int, error) {
	start, err := PositionToOffset(b, r.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := PositionToOffset(b, r.End)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("range end %s is before start %s", r.End, r.Start)
	}
	return start, end, nil
}
