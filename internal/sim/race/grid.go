package race

import "fmt"

// Cell is one board square. Runner symbols occupy their own cell values so
// the board alone is enough to render a frame.
type Cell byte

const (
	CellEmpty  Cell = '.'
	CellGoal   Cell = 'F'
	CellCarrot Cell = 'C'
)

func (c Cell) String() string { return string(rune(c)) }

type Pos struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Grid is a square cell store with no behavior beyond bounds checking.
// It is not safe for concurrent use; after setup only the race loop
// goroutine touches it.
type Grid struct {
	size  int
	cells []Cell
}

func NewGrid(size int) *Grid {
	g := &Grid{size: size, cells: make([]Cell, size*size)}
	for i := range g.cells {
		g.cells[i] = CellEmpty
	}
	return g
}

func (g *Grid) Size() int { return g.size }

func (g *Grid) InBounds(p Pos) bool {
	return p.Row >= 0 && p.Row < g.size && p.Col >= 0 && p.Col < g.size
}

func (g *Grid) CellAt(p Pos) (Cell, error) {
	if !g.InBounds(p) {
		return 0, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfBounds, p.Row, p.Col, g.size, g.size)
	}
	return g.cells[p.Row*g.size+p.Col], nil
}

// SetCell writes a cell value. Writing outside the board is a programming
// error, not a game outcome, so it trips an invariant failure.
func (g *Grid) SetCell(p Pos, v Cell) {
	if !g.InBounds(p) {
		panic(invariantf("set cell (%d,%d) outside %dx%d board", p.Row, p.Col, g.size, g.size))
	}
	g.cells[p.Row*g.size+p.Col] = v
}

// Rows copies the board into one string per row, for snapshots and rendering.
func (g *Grid) Rows() []string {
	rows := make([]string, g.size)
	for r := 0; r < g.size; r++ {
		rows[r] = string(g.cells[r*g.size : (r+1)*g.size])
	}
	return rows
}

func (g *Grid) countEmpty() int {
	n := 0
	for _, c := range g.cells {
		if c == CellEmpty {
			n++
		}
	}
	return n
}
