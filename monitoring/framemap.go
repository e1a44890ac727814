package monitoring

import (
	"io"

	"github.com/fogleman/gg"

	"github.com/sarchlab/kcore/mem/frame"
)

const (
	frameMapColumns = 64
	frameMapCell    = 6
)

type rgb struct{ r, g, b float64 }

var stateColors = map[frame.State]rgb{
	frame.Free:           {0.85, 0.92, 0.85},
	frame.Used:           {0.25, 0.45, 0.80},
	frame.HeadOfSequence: {0.90, 0.30, 0.20},
}

func frameMapRows(pool *frame.Pool) int {
	return (int(pool.NumFrames())-1)/frameMapColumns + 1
}

// DrawFrameMap draws one cell per frame of each pool, a row of
// frameMapColumns frames at a time. Pools are separated by an empty row.
func DrawFrameMap(pools ...*frame.Pool) *gg.Context {
	rows := 0
	for _, p := range pools {
		rows += frameMapRows(p) + 1
	}

	if rows == 0 {
		rows = 1
	}

	dc := gg.NewContext(
		frameMapColumns*frameMapCell, rows*frameMapCell)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	row := 0
	for _, p := range pools {
		for i, s := range p.States() {
			c := stateColors[s]
			x := float64(i%frameMapColumns) * frameMapCell
			y := float64(row+i/frameMapColumns) * frameMapCell

			dc.SetRGB(c.r, c.g, c.b)
			dc.DrawRectangle(x, y, frameMapCell-1, frameMapCell-1)
			dc.Fill()
		}

		row += frameMapRows(p) + 1
	}

	return dc
}

// WriteFrameMap encodes the frame map of the pools as a PNG image.
func WriteFrameMap(w io.Writer, pools ...*frame.Pool) error {
	return DrawFrameMap(pools...).EncodePNG(w)
}

// SaveFrameMap writes the frame map of the pools to a PNG file.
func SaveFrameMap(path string, pools ...*frame.Pool) error {
	return DrawFrameMap(pools...).SavePNG(path)
}
