package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/maxxNcode/MP-2048/internal/board"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options carries the HUD text and the highlighted spawn cell.
type Options struct {
	Title string
	Turn  string
	Score int
	Spawn *board.Cell
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, b board.Board, opts Options) ([]byte, error)
}

type pngRenderer struct{}

func NewPNGRenderer() BoardRenderer {
	return &pngRenderer{}
}

const (
	tileSize     = 96
	tileGap      = 12
	boardSize    = tileSize*board.Size + tileGap*(board.Size+1)
	sideMargin   = 28
	topMargin    = 104
	bottomMargin = 28
	panelHeight  = 34
	panelGap     = 12
	panelRadius  = 10
	boardRadius  = 12
	shadowOffset = 5
)

var (
	backgroundColor = color.NRGBA{R: 250, G: 248, B: 239, A: 255}
	boardColor      = color.NRGBA{R: 187, G: 173, B: 160, A: 255}
	boardShadow     = color.NRGBA{0, 0, 0, 40}
	hudPanelColor   = color.NRGBA{R: 143, G: 122, B: 102, A: 255}
	hudTurnColor    = color.NRGBA{R: 119, G: 110, B: 101, A: 255}
	hudShadowColor  = color.NRGBA{0, 0, 0, 35}
	hudText         = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	spawnMarker     = color.NRGBA{R: 255, G: 255, B: 255, A: 200}
)

func (r *pngRenderer) RenderPNG(ctx context.Context, b board.Board, opts Options) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + topMargin + bottomMargin
	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	boardRect := image.Rect(sideMargin, topMargin, sideMargin+boardSize, topMargin+boardSize)
	drawHUD(img, opts, boardRect)
	drawRoundedPanel(img, boardRect.Add(image.Pt(0, shadowOffset)), boardRadius, boardShadow)
	drawRoundedPanel(img, boardRect, boardRadius, boardColor)
	if err := drawTiles(img, b, boardRect.Min); err != nil {
		return nil, err
	}
	drawSpawn(img, opts.Spawn, boardRect.Min)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(row, col int, origin image.Point) image.Rectangle {
	x := origin.X + tileGap + col*(tileSize+tileGap)
	y := origin.Y + tileGap + row*(tileSize+tileGap)
	return image.Rect(x, y, x+tileSize, y+tileSize)
}

func drawTiles(dst *image.RGBA, b board.Board, origin image.Point) error {
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			v := b[row][col]
			tile, err := renderTileImage(v, tileSize)
			if err != nil {
				return err
			}
			rect := cellRect(row, col, origin)
			imagedraw.Draw(dst, rect, tile, image.Point{}, imagedraw.Over)
			if v == 0 {
				continue
			}
			label := strconv.Itoa(v)
			drawScaledText(dst, rect.Inset(8), label, styleFor(v).text, labelScale(label))
		}
	}
	return nil
}

func labelScale(label string) int {
	switch len(label) {
	case 1, 2:
		return 5
	case 3:
		return 4
	default:
		return 3
	}
}

func drawSpawn(img *image.RGBA, spawn *board.Cell, origin image.Point) {
	if spawn == nil || spawn.Row < 0 || spawn.Row >= board.Size || spawn.Col < 0 || spawn.Col >= board.Size {
		return
	}
	rect := cellRect(spawn.Row, spawn.Col, origin)
	drawDisc(img, image.Pt(rect.Max.X-12, rect.Min.Y+12), 5, spawnMarker)
}

func drawHUD(img *image.RGBA, opts Options, boardRect image.Rectangle) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "2048"
	}
	turn := strings.TrimSpace(opts.Turn)
	scoreText := "SCORE " + strconv.Itoa(opts.Score)

	titleBottom := boardRect.Min.Y - panelGap - panelHeight - panelGap
	titleRect := image.Rect(boardRect.Min.X, titleBottom-panelHeight, boardRect.Min.X+boardRect.Dx()*3/5, titleBottom)
	scoreRect := image.Rect(boardRect.Max.X-boardRect.Dx()/3, titleRect.Min.Y, boardRect.Max.X, titleBottom)
	turnRect := image.Rect(boardRect.Min.X, boardRect.Min.Y-panelGap-panelHeight, boardRect.Max.X, boardRect.Min.Y-panelGap)

	for _, r := range []image.Rectangle{titleRect, scoreRect} {
		drawRoundedPanel(img, r.Add(image.Pt(0, shadowOffset)), panelRadius, hudShadowColor)
		drawRoundedPanel(img, r, panelRadius, hudPanelColor)
	}
	drawScaledText(img, titleRect.Inset(6), title, hudText, 2)
	drawScaledText(img, scoreRect.Inset(6), scoreText, hudText, 2)

	if turn != "" {
		drawRoundedPanel(img, turnRect, panelRadius, hudTurnColor)
		drawScaledText(img, turnRect.Inset(6), turn, hudText, 2)
	}
}

// drawScaledText renders text with the fixed 7x13 face and scales it up into rect, shrinking the
// scale until the label fits.
func drawScaledText(dst *image.RGBA, rect image.Rectangle, text string, clr color.Color, scale int) {
	if dst == nil || text == "" || rect.Empty() {
		return
	}
	face := basicfont.Face7x13
	drawer := &font.Drawer{Face: face}
	width := drawer.MeasureString(text).Ceil()
	metrics := face.Metrics()
	height := metrics.Ascent.Ceil() + metrics.Descent.Ceil()
	if width <= 0 || height <= 0 {
		return
	}

	for scale > 1 && (width*scale > rect.Dx() || height*scale > rect.Dy()) {
		scale--
	}

	src := image.NewRGBA(image.Rect(0, 0, width, height))
	drawer.Dst = src
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(0, metrics.Ascent.Ceil())
	drawer.DrawString(text)

	w, h := width*scale, height*scale
	x := rect.Min.X + (rect.Dx()-w)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	y := rect.Min.Y + (rect.Dy()-h)/2
	target := image.Rect(x, y, x+w, y+h)
	xdraw.NearestNeighbor.Scale(dst, target, src, src.Bounds(), xdraw.Over, nil)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if img == nil || rect.Empty() {
		return
	}
	if radius < 0 {
		radius = 0
	}
	if r := rect.Dx() / 2; radius > r {
		radius = r
	}
	if r := rect.Dy() / 2; radius > r {
		radius = r
	}
	fill := image.NewUniform(clr)
	if radius == 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}

	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)

	corners := []struct {
		center image.Point
		clip   image.Rectangle
	}{
		{image.Pt(rect.Min.X+radius, rect.Min.Y+radius), image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+radius, rect.Min.Y+radius)},
		{image.Pt(rect.Max.X-radius-1, rect.Min.Y+radius), image.Rect(rect.Max.X-radius, rect.Min.Y, rect.Max.X, rect.Min.Y+radius)},
		{image.Pt(rect.Min.X+radius, rect.Max.Y-radius-1), image.Rect(rect.Min.X, rect.Max.Y-radius, rect.Min.X+radius, rect.Max.Y)},
		{image.Pt(rect.Max.X-radius-1, rect.Max.Y-radius-1), image.Rect(rect.Max.X-radius, rect.Max.Y-radius, rect.Max.X, rect.Max.Y)},
	}
	rSquared := radius * radius
	for _, c := range corners {
		for y := c.clip.Min.Y; y < c.clip.Max.Y; y++ {
			for x := c.clip.Min.X; x < c.clip.Max.X; x++ {
				dx, dy := x-c.center.X, y-c.center.Y
				if dx*dx+dy*dy <= rSquared {
					blendPixel(img, x, y, clr)
				}
			}
		}
	}
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	if radius <= 0 {
		blendPixel(img, center.X, center.Y, clr)
		return
	}
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			blendPixel(img, center.X+x, center.Y+y, clr)
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if img == nil || !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	dst := img.RGBAAt(x, y)
	// premultiplied source-over
	inv := 65535 - sa
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(dst.R)*0x101*inv/65535) >> 8),
		G: uint8((sg + uint32(dst.G)*0x101*inv/65535) >> 8),
		B: uint8((sb + uint32(dst.B)*0x101*inv/65535) >> 8),
		A: uint8((sa + uint32(dst.A)*0x101*inv/65535) >> 8),
	})
}
