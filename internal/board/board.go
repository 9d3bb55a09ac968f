package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Size is the edge length of the grid.
const Size = 4

// WinningTile is the tile value that counts as a solved run.
const WinningTile = 2048

var (
	ErrInvalidBoard     = errors.New("invalid board")
	ErrUnknownDirection = errors.New("unknown direction")
)

// Board is a fixed 4x4 grid. 0 is an empty cell, anything else a power of two.
type Board [Size][Size]int

// Cell addresses one grid position.
type Cell struct {
	Row int `json:"r"`
	Col int `json:"c"`
}

type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions lists every legal direction.
var Directions = []Direction{Up, Down, Left, Right}

// ParseDirection accepts direction names and the w/a/s/d key aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "u", "w", "arrowup":
		return Up, nil
	case "down", "s", "arrowdown":
		return Down, nil
	case "left", "l", "a", "arrowleft":
		return Left, nil
	case "right", "r", "d", "arrowright":
		return Right, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

func (d Direction) Valid() bool {
	switch d {
	case Up, Down, Left, Right:
		return true
	}
	return false
}

// FromRows validates a row-major grid and converts it to a Board.
func FromRows(rows [][]int) (Board, error) {
	var b Board
	if len(rows) != Size {
		return b, fmt.Errorf("%w: %d rows", ErrInvalidBoard, len(rows))
	}
	for r, row := range rows {
		if len(row) != Size {
			return Board{}, fmt.Errorf("%w: row %d has %d cells", ErrInvalidBoard, r, len(row))
		}
		for c, v := range row {
			if !validTile(v) {
				return Board{}, fmt.Errorf("%w: cell (%d,%d)=%d", ErrInvalidBoard, r, c, v)
			}
			b[r][c] = v
		}
	}
	return b, nil
}

// Rows returns the board as a freshly allocated slice grid.
func (b Board) Rows() [][]int {
	out := make([][]int, Size)
	for r := range b {
		out[r] = append([]int(nil), b[r][:]...)
	}
	return out
}

func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Rows())
}

// UnmarshalJSON rejects grids that are not 4x4 or hold non power-of-two tiles.
// A JSON null leaves the board empty.
func (b *Board) UnmarshalJSON(raw []byte) error {
	var rows [][]int
	if err := json.Unmarshal(raw, &rows); err != nil {
		return err
	}
	if rows == nil {
		*b = Board{}
		return nil
	}
	parsed, err := FromRows(rows)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Board) String() string {
	var sb strings.Builder
	for r := range b {
		for c := range b[r] {
			if c > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%4d", b[r][c])
		}
		if r < Size-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func validTile(v int) bool {
	if v == 0 {
		return true
	}
	return v >= 2 && v&(v-1) == 0
}
