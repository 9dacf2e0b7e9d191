package visualizer

import (
	"fmt"
	"io"
	"strings"
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

// Bars renders bins as a single line of width columns. Each bar is half the
// bin value tall; adjacent bins are averaged to fit the width.
func Bars(bins []uint8, width int) string {
	if width <= 0 || len(bins) == 0 {
		return ""
	}
	if width > len(bins) {
		width = len(bins)
	}

	var sb strings.Builder
	group := len(bins) / width
	for col := 0; col < width; col++ {
		start := col * group
		end := start + group
		if col == width-1 {
			end = len(bins)
		}
		sum := 0
		for _, b := range bins[start:end] {
			sum += int(b)
		}
		height := sum / (end - start) / 2
		sb.WriteRune(levels[height*(len(levels)-1)/127])
	}
	return sb.String()
}

// BarRenderer redraws the bars in place on a terminal line.
type BarRenderer struct {
	w     io.Writer
	width int
}

func NewBarRenderer(w io.Writer, width int) *BarRenderer {
	return &BarRenderer{w: w, width: width}
}

func (b *BarRenderer) Render(bins []uint8) {
	fmt.Fprintf(b.w, "\r%s", Bars(bins, b.width))
}
