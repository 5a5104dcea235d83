// Package terminal is the small ANSI-to-cell mapper cmd/demohost uses to
// turn a PTY's raw byte stream into grid updates (spec.md §5 "a host still
// needs *something* feeding it frames"). It tracks cursor position, current
// SGR style, and a simple cell grid, and emits the same wire.Update variant
// pkg/grid consumes — it is a miniature version of the same
// print/execute/CSI/SGR state machine a real terminal emulator runs, scoped
// to what a demo host needs to produce a plausible stream, not a
// spec-complete terminal emulator.
package terminal

import (
	"sync"
	"unicode/utf8"

	"github.com/beachterm/viewer/pkg/wire"
)

type cell struct {
	ch      rune
	styleID uint32
}

// VT is a minimal virtual terminal: a cell grid plus cursor, fed raw PTY
// bytes and producing the row/style updates a host would send over the wire
// protocol.
type VT struct {
	mu   sync.Mutex
	cols int
	rows int
	grid [][]cell

	cursorX, cursorY int

	curFG, curBG uint32
	curAttrs     wire.Attrs

	styleIDs   map[styleKey]uint32
	nextStyle  uint32
	newStyles  []wire.Style
	dirtyLines map[int]bool
}

type styleKey struct {
	fg, bg uint32
	attrs  wire.Attrs
}

// New creates a VT sized cols x rows, with style id 0 pre-registered as the
// default style (spec.md §3 "Style id 0 is the reserved default style").
func New(cols, rows int) *VT {
	v := &VT{
		cols:       cols,
		rows:       rows,
		styleIDs:   map[styleKey]uint32{{}: 0},
		nextStyle:  1,
		dirtyLines: map[int]bool{},
	}
	v.grid = make([][]cell, rows)
	for y := range v.grid {
		v.grid[y] = make([]cell, cols)
	}
	return v
}

// Resize changes the grid dimensions, preserving the overlapping region.
func (v *VT) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := make([][]cell, rows)
	for y := range next {
		next[y] = make([]cell, cols)
		if y < len(v.grid) {
			copy(next[y], v.grid[y])
		}
	}
	v.grid = next
	v.cols, v.rows = cols, rows
	if v.cursorY >= rows {
		v.cursorY = rows - 1
	}
	if v.cursorX >= cols {
		v.cursorX = cols - 1
	}
	for y := 0; y < rows; y++ {
		v.dirtyLines[y] = true
	}
}

// Feed parses data as a PTY output stream, mutating the grid, and returns the
// wire updates (any newly-seen styles first, then one UpdateRow per dirty
// line) a host would broadcast for this chunk, tagged with seq.
func (v *VT) Feed(data []byte, seq uint64) []wire.Update {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b == 0x1B && i+1 < len(data) && data[i+1] == '[':
			n := v.handleCSI(data[i+2:], seq)
			i += 2 + n
		case b == 0x1B:
			i++ // unsupported escape, drop the introducer and resync on next byte
		case b == '\r' || b == '\n' || b == '\b' || b == '\t':
			v.handleExecute(b)
			i++
		case b < 0x20:
			i++ // other control bytes: ignored
		default:
			r, size := utf8.DecodeRune(data[i:])
			v.handlePrint(r)
			i += size
		}
	}

	return v.drainUpdatesLocked(seq)
}

func (v *VT) handlePrint(r rune) {
	if v.cursorY < v.rows && v.cursorX < v.cols {
		v.grid[v.cursorY][v.cursorX] = cell{ch: r, styleID: v.currentStyleIDLocked()}
		v.dirtyLines[v.cursorY] = true
	}
	v.cursorX++
	if v.cursorX >= v.cols {
		v.cursorX = 0
		v.advanceLine()
	}
}

func (v *VT) handleExecute(b byte) {
	switch b {
	case '\r':
		v.cursorX = 0
	case '\n':
		v.advanceLine()
	case '\b':
		if v.cursorX > 0 {
			v.cursorX--
		}
	case '\t':
		v.cursorX = ((v.cursorX / 8) + 1) * 8
		if v.cursorX >= v.cols {
			v.cursorX = v.cols - 1
		}
	}
}

func (v *VT) advanceLine() {
	v.cursorY++
	if v.cursorY >= v.rows {
		v.scrollUp()
		v.cursorY = v.rows - 1
	}
}

func (v *VT) scrollUp() {
	copy(v.grid, v.grid[1:])
	v.grid[v.rows-1] = make([]cell, v.cols)
	for y := 0; y < v.rows; y++ {
		v.dirtyLines[y] = true
	}
}

// handleCSI parses one CSI sequence starting just after "ESC [" and returns
// the number of bytes it consumed (not including the introducer).
func (v *VT) handleCSI(rest []byte, seq uint64) int {
	i := 0
	params := []int{}
	cur := -1
	for i < len(rest) {
		c := rest[i]
		switch {
		case c >= '0' && c <= '9':
			if cur < 0 {
				cur = 0
			}
			cur = cur*10 + int(c-'0')
			i++
		case c == ';':
			params = append(params, maxInt(cur, 0))
			cur = -1
			i++
		case c >= 0x40 && c <= 0x7E:
			if cur >= 0 || len(params) == 0 {
				params = append(params, maxInt(cur, 0))
			}
			v.applyCSI(c, params, seq)
			return i + 1
		default:
			i++
		}
	}
	return i
}

func maxInt(n, floor int) int {
	if n < floor {
		return floor
	}
	return n
}

func (v *VT) applyCSI(final byte, params []int, seq uint64) {
	p := func(i, def int) int {
		if i < len(params) && params[i] > 0 {
			return params[i]
		}
		return def
	}

	switch final {
	case 'A':
		v.cursorY = maxInt(v.cursorY-p(0, 1), 0)
	case 'B':
		v.cursorY = minInt(v.cursorY+p(0, 1), v.rows-1)
	case 'C':
		v.cursorX = minInt(v.cursorX+p(0, 1), v.cols-1)
	case 'D':
		v.cursorX = maxInt(v.cursorX-p(0, 1), 0)
	case 'H', 'f':
		row := p(0, 1) - 1
		col := p(1, 1) - 1
		v.cursorY = clamp(row, 0, v.rows-1)
		v.cursorX = clamp(col, 0, v.cols-1)
	case 'J':
		v.eraseDisplay(p(0, 0))
	case 'K':
		v.eraseLine(p(0, 0))
	case 'm':
		v.handleSGR(params)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func (v *VT) eraseDisplay(mode int) {
	switch mode {
	case 0:
		v.eraseLine(0)
		for y := v.cursorY + 1; y < v.rows; y++ {
			v.grid[y] = make([]cell, v.cols)
			v.dirtyLines[y] = true
		}
	case 1:
		v.eraseLine(1)
		for y := 0; y < v.cursorY; y++ {
			v.grid[y] = make([]cell, v.cols)
			v.dirtyLines[y] = true
		}
	case 2, 3:
		for y := 0; y < v.rows; y++ {
			v.grid[y] = make([]cell, v.cols)
			v.dirtyLines[y] = true
		}
	}
}

func (v *VT) eraseLine(mode int) {
	row := v.grid[v.cursorY]
	switch mode {
	case 0:
		for x := v.cursorX; x < v.cols; x++ {
			row[x] = cell{}
		}
	case 1:
		for x := 0; x <= v.cursorX && x < v.cols; x++ {
			row[x] = cell{}
		}
	case 2:
		for x := range row {
			row[x] = cell{}
		}
	}
	v.dirtyLines[v.cursorY] = true
}

// handleSGR processes Select Graphic Rendition parameters, the same
// attribute/color table a real terminal implements (spec.md's Style has the
// matching fields: FG/BG/Attrs).
func (v *VT) handleSGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		switch p := params[i]; {
		case p == 0:
			v.curFG, v.curBG, v.curAttrs = 0, 0, 0
		case p == 1:
			v.curAttrs |= wire.AttrBold
		case p == 3:
			v.curAttrs |= wire.AttrItalic
		case p == 4:
			v.curAttrs |= wire.AttrUnderline
		case p == 7:
			v.curAttrs |= wire.AttrReverse
		case p == 9:
			v.curAttrs |= wire.AttrStrike
		case p == 22:
			v.curAttrs &^= wire.AttrBold
		case p == 23:
			v.curAttrs &^= wire.AttrItalic
		case p == 24:
			v.curAttrs &^= wire.AttrUnderline
		case p == 27:
			v.curAttrs &^= wire.AttrReverse
		case p == 39:
			v.curFG = 0
		case p == 49:
			v.curBG = 0
		case p >= 30 && p <= 37:
			v.curFG = uint32(wire.PackColor(wire.ColorIndexed, 0, 0, byte(p-30)))
		case p >= 40 && p <= 47:
			v.curBG = uint32(wire.PackColor(wire.ColorIndexed, 0, 0, byte(p-40)))
		case p == 38 && i+2 < len(params) && params[i+1] == 5:
			v.curFG = uint32(wire.PackColor(wire.ColorIndexed, 0, 0, byte(params[i+2])))
			i += 2
		case p == 48 && i+2 < len(params) && params[i+1] == 5:
			v.curBG = uint32(wire.PackColor(wire.ColorIndexed, 0, 0, byte(params[i+2])))
			i += 2
		}
	}
}

// currentStyleIDLocked looks up (or installs) the style id for the current
// SGR state, queuing an UpdateStyle for any id it has to mint.
func (v *VT) currentStyleIDLocked() uint32 {
	key := styleKey{fg: v.curFG, bg: v.curBG, attrs: v.curAttrs}
	if id, ok := v.styleIDs[key]; ok {
		return id
	}
	id := v.nextStyle
	v.nextStyle++
	v.styleIDs[key] = id
	v.newStyles = append(v.newStyles, wire.Style{ID: id, FG: wire.Color(v.curFG), BG: wire.Color(v.curBG), Attrs: v.curAttrs})
	return id
}

func (v *VT) drainUpdatesLocked(seq uint64) []wire.Update {
	var updates []wire.Update
	for _, s := range v.newStyles {
		updates = append(updates, wire.Update{Kind: wire.UpdateStyle, Seq: seq, Style: s})
	}
	v.newStyles = nil

	for y := 0; y < v.rows; y++ {
		if !v.dirtyLines[y] {
			continue
		}
		packed := make([]wire.PackedCell, v.cols)
		for x, c := range v.grid[y] {
			packed[x] = wire.EncodeCell(c.ch, c.styleID)
		}
		updates = append(updates, wire.Update{Kind: wire.UpdateRow, Row: uint64(y), Seq: seq, Cells: packed})
	}
	v.dirtyLines = map[int]bool{}

	return updates
}

// Cursor returns the current cursor position.
func (v *VT) Cursor() (row uint64, col uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return uint64(v.cursorY), uint32(v.cursorX)
}

// Size returns the grid's current dimensions.
func (v *VT) Size() (cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cols, v.rows
}
