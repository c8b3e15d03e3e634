package export

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/dukex/processflow/pkg/models"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MaxSnapshotSide bounds either side of a snapshot in pixels.
const MaxSnapshotSide = 8192

// SnapshotOptions controls the rasterized diagram. Zero values select the defaults.
type SnapshotOptions struct {
	NodeWidth  int
	NodeHeight int
	Padding    int
}

func (o SnapshotOptions) withDefaults() SnapshotOptions {
	if o.NodeWidth <= 0 {
		o.NodeWidth = 180
	}

	if o.NodeHeight <= 0 {
		o.NodeHeight = 48
	}

	if o.Padding <= 0 {
		o.Padding = 24
	}

	return o
}

var (
	backgroundColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	nodeFill        = color.RGBA{R: 0xee, G: 0xf2, B: 0xff, A: 0xff}
	nodeBorder      = color.RGBA{R: 0x3b, G: 0x5b, B: 0xdb, A: 0xff}
	missingLabel    = color.RGBA{R: 0xd9, G: 0x30, B: 0x25, A: 0xff}
	edgeColor       = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
	textColor       = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}
)

// Snapshot rasterizes the diagram layout to a PNG. Nodes are drawn at their positions,
// edges as straight lines between node centers. Edges with unresolved endpoints are
// skipped.
func Snapshot(w io.Writer, flow *models.Flow, opts SnapshotOptions) error {
	if flow == nil {
		return failed("no flow to render")
	}

	opts = opts.withDefaults()

	minX, minY, maxX, maxY := bounds(flow.Nodes)
	for _, v := range []float64{minX, minY, maxX, maxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return failed("node positions are not finite")
		}
	}

	// Bound the span in float space, before any int conversion.
	if maxX-minX > MaxSnapshotSide || maxY-minY > MaxSnapshotSide {
		return failed("diagram span of %.0fx%.0f exceeds the %d pixel limit", maxX-minX, maxY-minY, MaxSnapshotSide)
	}

	width := int(math.Ceil(maxX-minX)) + opts.NodeWidth + 2*opts.Padding
	height := int(math.Ceil(maxY-minY)) + opts.NodeHeight + 2*opts.Padding

	if width > MaxSnapshotSide || height > MaxSnapshotSide {
		return failed("diagram of %dx%d pixels exceeds the %d pixel limit", width, height, MaxSnapshotSide)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	boxes := make(map[string]image.Rectangle, len(flow.Nodes))

	for _, node := range flow.Nodes {
		x := int(math.Round(node.Position.X-minX)) + opts.Padding
		y := int(math.Round(node.Position.Y-minY)) + opts.Padding
		boxes[node.ID] = image.Rect(x, y, x+opts.NodeWidth, y+opts.NodeHeight)
	}

	for _, edge := range flow.Edges {
		source, okSource := boxes[edge.Source]
		target, okTarget := boxes[edge.Target]

		if !okSource || !okTarget {
			continue
		}

		drawLine(canvas, center(source), center(target), edgeColor)
	}

	for _, node := range flow.Nodes {
		drawNode(canvas, boxes[node.ID], node.Label)
	}

	err := png.Encode(w, canvas)
	if err != nil {
		return failed("encode png: %v", err)
	}

	return nil
}

func bounds(nodes []models.StepNode) (minX, minY, maxX, maxY float64) {
	if len(nodes) == 0 {
		return 0, 0, 0, 0
	}

	minX, minY = nodes[0].Position.X, nodes[0].Position.Y
	maxX, maxY = minX, minY

	for _, node := range nodes[1:] {
		minX = math.Min(minX, node.Position.X)
		minY = math.Min(minY, node.Position.Y)
		maxX = math.Max(maxX, node.Position.X)
		maxY = math.Max(maxY, node.Position.Y)
	}

	return minX, minY, maxX, maxY
}

func center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func drawNode(canvas *image.RGBA, box image.Rectangle, label string) {
	border := nodeBorder
	if label == "" {
		border = missingLabel
	}

	draw.Draw(canvas, box, &image.Uniform{C: border}, image.Point{}, draw.Src)
	draw.Draw(canvas, box.Inset(2), &image.Uniform{C: nodeFill}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	maxChars := (box.Dx() - 12) / face.Advance

	text := []rune(label)
	if len(text) > maxChars && maxChars > 3 {
		text = append(text[:maxChars-3], '.', '.', '.')
	}

	drawer := font.Drawer{
		Dst:  canvas,
		Src:  &image.Uniform{C: textColor},
		Face: face,
		Dot: fixed.P(
			box.Min.X+6,
			box.Min.Y+(box.Dy()+face.Ascent-face.Descent)/2,
		),
	}
	drawer.DrawString(string(text))
}

// drawLine draws a one pixel line with Bresenham's algorithm.
func drawLine(canvas *image.RGBA, from, to image.Point, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1

	if from.X > to.X {
		sx = -1
	}

	if from.Y > to.Y {
		sy = -1
	}

	errTerm := dx + dy
	x, y := from.X, from.Y

	for {
		canvas.Set(x, y, c)

		if x == to.X && y == to.Y {
			return
		}

		e2 := 2 * errTerm
		if e2 >= dy {
			errTerm += dy
			x += sx
		}

		if e2 <= dx {
			errTerm += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
