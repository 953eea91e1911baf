package render

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize = 72
	boardSize  = squareSize * 8
	sideMargin = 28
	topMargin  = 48
	botMargin  = 28
)

var (
	lightSquare = color.RGBA{233, 207, 163, 255}
	darkSquare  = color.RGBA{187, 136, 96, 255}
	background  = color.RGBA{28, 31, 46, 255}
	captionText = color.RGBA{236, 239, 255, 255}
	coordText   = color.RGBA{140, 150, 180, 255}
)

// BoardPNG renders the position with an optional caption line above the
// board, usually the last accepted move.
func BoardPNG(pos *nchess.Position, caption string) ([]byte, error) {
	width := boardSize + sideMargin*2
	height := boardSize + topMargin + botMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawSquares(img, origin)
	if err := drawPieces(img, pos.Board(), origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)
	drawCaption(img, caption, width)

	return encodePNG(img)
}

func drawSquares(dst draw.Image, origin image.Point) {
	for sq := 0; sq < 64; sq++ {
		rect := boardSquareRect(nchess.Square(sq), origin)
		draw.Draw(dst, rect, image.NewUniform(squareColor(nchess.Square(sq))), image.Point{}, draw.Src)
	}
}

func drawPieces(dst draw.Image, board *nchess.Board, origin image.Point) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		draw.Draw(dst, boardSquareRect(sq, origin), img, image.Point{}, draw.Over)
	}
	return nil
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(coordText),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Ascent

	for r := 0; r < 8; r++ {
		label := nchess.Rank(r).String()
		y := origin.Y + (7-r)*squareSize + squareSize/2 + ascent/2
		d.Dot = fixed.P(origin.X-sideMargin/2-4, y)
		d.DrawString(label)
	}
	for f := 0; f < 8; f++ {
		label := nchess.File(f).String()
		width := d.MeasureString(label).Round()
		x := origin.X + f*squareSize + squareSize/2 - width/2
		d.Dot = fixed.P(x, origin.Y+boardSize+ascent+8)
		d.DrawString(label)
	}
}

func drawCaption(img *image.RGBA, caption string, width int) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(captionText),
		Face: basicfont.Face7x13,
	}
	w := d.MeasureString(caption).Round()
	d.Dot = fixed.P((width-w)/2, topMargin/2+basicfont.Face7x13.Ascent/2)
	d.DrawString(caption)
}

func boardSquareRect(sq nchess.Square, origin image.Point) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
