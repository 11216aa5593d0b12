// Package board holds the pure rules of the 3x3 game: placing a symbol and
// judging a position.
package board

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Symbol is the mark a player places. The zero value is an empty cell.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Size is the number of cells on the board.
const Size = 9

var (
	ErrOutOfRange  = errors.New("position out of range")
	ErrIllegalMove = errors.New("cell already occupied")
)

// Triples lists the winning lines in canonical scan order: rows, then
// columns, then diagonals. Evaluate reports the first complete one.
var Triples = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Cells is the board, row-major.
type Cells [Size]Symbol

// MarshalJSON encodes an empty cell as null.
func (s Symbol) MarshalJSON() ([]byte, error) {
	if s == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts null as an empty cell.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Empty
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Symbol(v)
	return nil
}

// Other returns the opponent's symbol.
func Other(s Symbol) Symbol {
	if s == X {
		return O
	}
	return X
}

// Apply returns a copy of cells with symbol written at position.
func Apply(cells Cells, position int, symbol Symbol) (Cells, error) {
	if position < 0 || position >= Size {
		return cells, fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}
	if cells[position] != Empty {
		return cells, fmt.Errorf("%w: %d", ErrIllegalMove, position)
	}

	cells[position] = symbol
	return cells, nil
}

// Kind classifies a position.
type Kind int

const (
	Ongoing Kind = iota
	Won
	Draw
)

func (k Kind) String() string {
	switch k {
	case Won:
		return "won"
	case Draw:
		return "draw"
	default:
		return "ongoing"
	}
}

// Result is the verdict on a position. Winner and Triple are set only for Won.
type Result struct {
	Kind   Kind
	Winner Symbol
	Triple [3]int
}

// Evaluate judges cells. A full board with no complete triple is a draw.
func Evaluate(cells Cells) Result {
	for _, t := range Triples {
		a, b, c := cells[t[0]], cells[t[1]], cells[t[2]]
		if a != Empty && a == b && b == c {
			return Result{Kind: Won, Winner: a, Triple: t}
		}
	}

	for _, cell := range cells {
		if cell == Empty {
			return Result{Kind: Ongoing}
		}
	}

	return Result{Kind: Draw}
}
