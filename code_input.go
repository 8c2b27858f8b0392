package authflow

import "strings"

// CodeCells is the number of single-digit cells in a code input.
const CodeCells = 6

// CodeInput models a six-cell code entry. Each cell holds at most one digit;
// the value is only submitted once every cell is filled.
type CodeInput struct {
	cells [CodeCells]byte
	focus int
}

// Set writes value starting at index and returns whether all cells are now
// filled. Non-digits are ignored, so a pasted "482 913" fills six cells.
// A value without digits clears the cell at index.
func (c *CodeInput) Set(index int, value string) bool {
	if index < 0 || index >= CodeCells {
		return c.Complete()
	}

	digits := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		if value[i] >= '0' && value[i] <= '9' {
			digits = append(digits, value[i])
		}
	}

	if len(digits) == 0 {
		c.cells[index] = 0
		c.focus = index
		return false
	}

	pos := index
	for _, d := range digits {
		if pos >= CodeCells {
			break
		}
		c.cells[pos] = d
		pos++
	}
	if pos >= CodeCells {
		pos = CodeCells - 1
	}
	c.focus = pos
	return c.Complete()
}

// Complete reports whether every cell holds a digit.
func (c CodeInput) Complete() bool {
	for _, b := range c.cells {
		if b == 0 {
			return false
		}
	}
	return true
}

// Value joins the filled cells.
func (c CodeInput) Value() string {
	var sb strings.Builder
	for _, b := range c.cells {
		if b != 0 {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// Cells returns each cell as a string, empty for unfilled cells.
func (c CodeInput) Cells() [CodeCells]string {
	var out [CodeCells]string
	for i, b := range c.cells {
		if b != 0 {
			out[i] = string(b)
		}
	}
	return out
}

// Focus is the index of the cell that should receive the next keystroke.
func (c CodeInput) Focus() int {
	return c.focus
}

// Clear empties every cell and moves focus back to the first one.
func (c *CodeInput) Clear() {
	c.cells = [CodeCells]byte{}
	c.focus = 0
}
