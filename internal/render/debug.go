// Package render produces PNG artifacts for reconstruction debugging: a
// per-frame occupancy map, a change heatmap between consecutive frames,
// and a full board render after each accepted move.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/otbreview/otbrecon/internal/recon"
	"github.com/otbreview/otbrecon/internal/tagmap"
)

const (
	debugCellSize = 100
	debugImgSize  = debugCellSize * 8
)

var (
	emptyCell    = color.RGBA{128, 128, 128, 255}
	whiteCell    = color.RGBA{255, 255, 255, 255}
	blackCell    = color.RGBA{0, 0, 0, 255}
	carriedEdge  = color.RGBA{255, 165, 0, 255}
	changedCell  = color.RGBA{255, 0, 0, 255}
	dimEmptyCell = color.RGBA{64, 64, 64, 255}
	dimWhiteCell = color.RGBA{200, 200, 200, 255}
	dimBlackCell = color.RGBA{20, 20, 20, 255}
	tagTextLight = color.RGBA{32, 32, 32, 255}
	tagTextDark  = color.RGBA{220, 220, 220, 255}
)

// OccupancyPNG renders a grid as an 8x8 color map: gray for empty, white
// and black for the occupying side. Carried cells get an orange border and
// every occupied cell is labeled with its tag.
func OccupancyPNG(g *recon.Grid, tags *tagmap.Table) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, debugImgSize, debugImgSize))

	for sq := 0; sq < 64; sq++ {
		rect := debugCellRect(nchess.Square(sq))
		tag := g.Cells[sq]

		fill := emptyCell
		text := tagTextLight
		switch {
		case tag == 0:
		case tags.IsColor(tag, nchess.Black):
			fill = blackCell
			text = tagTextDark
		default:
			fill = whiteCell
		}
		draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)

		if g.Carried[sq] {
			drawBorder(img, rect, 4, carriedEdge)
		}
		if tag != 0 {
			drawLabel(img, rect, fmt.Sprintf("%d", tag), text)
		}
	}

	return encodePNG(img)
}

// DiffPNG renders the change heatmap between two grids: changed cells in
// red, the rest as a dimmed occupancy map of the current frame.
func DiffPNG(prev, curr *recon.Grid, changes []recon.Change, tags *tagmap.Table) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, debugImgSize, debugImgSize))

	changed := make(map[nchess.Square]bool, len(changes))
	for _, c := range changes {
		changed[c.Square] = true
	}

	for sq := 0; sq < 64; sq++ {
		rect := debugCellRect(nchess.Square(sq))
		if changed[nchess.Square(sq)] {
			draw.Draw(img, rect, image.NewUniform(changedCell), image.Point{}, draw.Src)
			label := fmt.Sprintf("%d>%d", prev.Cells[sq], curr.Cells[sq])
			drawLabel(img, rect, label, tagTextDark)
			continue
		}

		tag := curr.Cells[sq]
		fill := dimEmptyCell
		switch {
		case tag == 0:
		case tags.IsColor(tag, nchess.Black):
			fill = dimBlackCell
		default:
			fill = dimWhiteCell
		}
		draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)
	}

	return encodePNG(img)
}

// debugCellRect maps a square to its cell, rank 8 on top.
func debugCellRect(sq nchess.Square) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := col * debugCellSize
	y := row * debugCellSize
	return image.Rect(x, y, x+debugCellSize, y+debugCellSize)
}

func drawBorder(img *image.RGBA, rect image.Rectangle, width int, clr color.Color) {
	u := image.NewUniform(clr)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), u, image.Point{}, draw.Src)
}

func drawLabel(img *image.RGBA, rect image.Rectangle, text string, clr color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	y := rect.Min.Y + rect.Dy()/2 + basicfont.Face7x13.Ascent/2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
