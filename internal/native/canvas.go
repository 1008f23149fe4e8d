package native

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// Cell size in canvas units. The visualizer's cap offsets are in pixels, so
// each character stands for a block of them.
const (
	cellWidth  = 4
	cellHeight = 8
)

const (
	blankRune = ' '
	barRune   = '█'
	capRune   = '▔'
)

// TextCanvas implements spectrum.Canvas on a grid of runes. Flush redraws
// the grid in place on w.
type TextCanvas struct {
	mu   sync.Mutex
	cols int
	rows int
	grid [][]rune
	w    io.Writer
}

// NewTextCanvas creates a cols by rows canvas writing to w. w may be nil.
func NewTextCanvas(cols, rows int, w io.Writer) *TextCanvas {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	grid := make([][]rune, rows)
	for i := range grid {
		grid[i] = make([]rune, cols)
	}
	c := &TextCanvas{cols: cols, rows: rows, grid: grid, w: w}
	c.Clear()
	return c
}

// Size implements spectrum.Canvas.
func (c *TextCanvas) Size() (width, height float64) {
	return float64(c.cols * cellWidth), float64(c.rows * cellHeight)
}

// Clear implements spectrum.Canvas.
func (c *TextCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range c.grid {
		for i := range row {
			row[i] = blankRune
		}
	}
}

// FillBar implements spectrum.Canvas.
func (c *TextCanvas) FillBar(x, y, w, h float64) {
	c.fill(x, y, w, h, barRune)
}

// FillCap implements spectrum.Canvas. Caps never overwrite bars.
func (c *TextCanvas) FillCap(x, y, w, h float64) {
	c.fill(x, y, w, h, capRune)
}

func (c *TextCanvas) fill(x, y, w, h float64, r rune) {
	if w <= 0 || h <= 0 {
		return
	}
	col0 := int(math.Floor(x / cellWidth))
	col1 := int(math.Ceil((x + w) / cellWidth))
	row0 := int(math.Floor(y / cellHeight))
	row1 := int(math.Ceil((y + h) / cellHeight))

	c.mu.Lock()
	defer c.mu.Unlock()
	for row := max(row0, 0); row < min(row1, c.rows); row++ {
		for col := max(col0, 0); col < min(col1, c.cols); col++ {
			if r == capRune && c.grid[row][col] == barRune {
				continue
			}
			c.grid[row][col] = r
		}
	}
}

// String returns the grid as lines.
func (c *TextCanvas) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, len(c.grid))
	for i, row := range c.grid {
		lines[i] = string(row)
	}
	return strings.Join(lines, "\n")
}

// Flush implements spectrum.Flusher. Each row is positioned explicitly so
// the frame draws the same in raw and cooked terminal modes.
func (c *TextCanvas) Flush() {
	if c.w == nil {
		return
	}
	c.mu.Lock()
	var b strings.Builder
	for i, row := range c.grid {
		fmt.Fprintf(&b, "\x1b[%d;1H%s", i+1, string(row))
	}
	c.mu.Unlock()
	io.WriteString(c.w, b.String())
}
