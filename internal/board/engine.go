package board

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MoveResult is the outcome of one ApplyMove call. Changed=false means the
// input board came back untouched with no gain and no spawn.
type MoveResult struct {
	Board   Board
	Changed bool
	Gain    int
	Spawn   *Cell
}

// Engine applies moves and spawns tiles. The random source only decides the
// spawn cell and value; everything else is deterministic.
type Engine struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEngine returns an engine drawing spawns from src. A nil src seeds from the clock.
func NewEngine(src rand.Source) *Engine {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>17|1)
	}
	return &Engine{rnd: rand.New(src)}
}

var defaultEngine = NewEngine(nil)

func CreateInitialBoard() Board {
	return defaultEngine.CreateInitialBoard()
}

func ApplyMove(b Board, dir Direction) MoveResult {
	return defaultEngine.ApplyMove(b, dir)
}

// CreateInitialBoard returns an empty grid with two spawned tiles.
func (e *Engine) CreateInitialBoard() Board {
	var b Board
	b, _ = e.spawn(b)
	b, _ = e.spawn(b)
	return b
}

// ApplyMove slides and merges toward dir. The input is never mutated (Board
// is a value type). Panics on an unknown direction.
func (e *Engine) ApplyMove(b Board, dir Direction) MoveResult {
	moved, changed, gain := slide(b, dir)
	if !changed {
		return MoveResult{Board: b}
	}
	next, spawn := e.spawn(moved)
	return MoveResult{Board: next, Changed: true, Gain: gain, Spawn: spawn}
}

// Slide performs the move without spawning. Exposed for callers that want the
// pre-spawn grid (tests, replays).
func Slide(b Board, dir Direction) (Board, bool, int) {
	return slide(b, dir)
}

func slide(b Board, dir Direction) (Board, bool, int) {
	switch dir {
	case Left:
		return moveLeft(b)
	case Right:
		return moveRight(b)
	case Up:
		t, changed, gain := moveLeft(transpose(b))
		return transpose(t), changed, gain
	case Down:
		t, changed, gain := moveRight(transpose(b))
		return transpose(t), changed, gain
	default:
		panic(fmt.Sprintf("board: unknown direction %q", string(dir)))
	}
}

func moveLeft(b Board) (Board, bool, int) {
	var out Board
	changed := false
	gain := 0
	for r := range b {
		line, g := mergeLine(b[r])
		if line != b[r] {
			changed = true
		}
		gain += g
		out[r] = line
	}
	return out, changed, gain
}

func moveRight(b Board) (Board, bool, int) {
	t, changed, gain := moveLeft(reverseRows(b))
	return reverseRows(t), changed, gain
}

// mergeLine compresses, merges each tile at most once, then compresses again.
func mergeLine(line [Size]int) ([Size]int, int) {
	c := compress(line)
	gain := 0
	for i := 0; i < Size-1; i++ {
		if c[i] != 0 && c[i] == c[i+1] {
			c[i] *= 2
			c[i+1] = 0
			gain += c[i]
			i++
		}
	}
	return compress(c), gain
}

func compress(line [Size]int) [Size]int {
	var out [Size]int
	n := 0
	for _, v := range line {
		if v != 0 {
			out[n] = v
			n++
		}
	}
	return out
}

func reverseRows(b Board) Board {
	var out Board
	for r := range b {
		for c := range b[r] {
			out[r][Size-1-c] = b[r][c]
		}
	}
	return out
}

func transpose(b Board) Board {
	var out Board
	for r := range b {
		for c := range b[r] {
			out[c][r] = b[r][c]
		}
	}
	return out
}

func (e *Engine) spawn(b Board) (Board, *Cell) {
	cells := EmptyCells(b)
	if len(cells) == 0 {
		return b, nil
	}
	e.mu.Lock()
	cell := cells[e.rnd.IntN(len(cells))]
	v := 2
	if e.rnd.Float64() >= 0.9 {
		v = 4
	}
	e.mu.Unlock()
	b[cell.Row][cell.Col] = v
	return b, &cell
}

// EmptyCells lists empty positions in row-major order.
func EmptyCells(b Board) []Cell {
	var cells []Cell
	for r := range b {
		for c := range b[r] {
			if b[r][c] == 0 {
				cells = append(cells, Cell{Row: r, Col: c})
			}
		}
	}
	return cells
}

// CanMoveAny reports whether an empty cell or an axis-adjacent equal pair exists.
func CanMoveAny(b Board) bool {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			v := b[r][c]
			if v == 0 {
				return true
			}
			if r < Size-1 && b[r+1][c] == v {
				return true
			}
			if c < Size-1 && b[r][c+1] == v {
				return true
			}
		}
	}
	return false
}

// ScoreOfBoard is the sum of all tiles, which equals the conventional score.
func ScoreOfBoard(b Board) int {
	s := 0
	for r := range b {
		for _, v := range b[r] {
			s += v
		}
	}
	return s
}

func MaxTile(b Board) int {
	m := 0
	for r := range b {
		for _, v := range b[r] {
			if v > m {
				m = v
			}
		}
	}
	return m
}

// IsEmpty reports an all-zero grid, which snapshots use for "no data yet".
func IsEmpty(b Board) bool {
	return b == Board{}
}

func CountTiles(b Board) int {
	n := 0
	for r := range b {
		for _, v := range b[r] {
			if v != 0 {
				n++
			}
		}
	}
	return n
}
