package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/maxxNcode/MP-2048/internal/board"
)

func TestRenderPNG(t *testing.T) {
	b := board.Board{
		{2, 4, 8, 16},
		{32, 64, 128, 256},
		{512, 1024, 2048, 4096},
		{0, 0, 0, 2},
	}
	r := NewPNGRenderer()
	out, err := r.RenderPNG(context.Background(), b, Options{Title: "2048", Turn: "Your turn (12s left)", Score: 8190, Spawn: &board.Cell{Row: 3, Col: 3}})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := boardSize + sideMargin*2
	if img.Bounds().Dx() != want || img.Bounds().Dy() != boardSize+topMargin+bottomMargin {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}

	// empty and filled cells must differ in colour at their centres
	empty := cellRect(3, 0, imgOrigin())
	filled := cellRect(0, 0, imgOrigin())
	er, eg, eb, _ := img.At(empty.Min.X+4, empty.Min.Y+tileSize/2).RGBA()
	fr, fg, fb, _ := img.At(filled.Min.X+4, filled.Min.Y+tileSize/2).RGBA()
	if er == fr && eg == fg && eb == fb {
		t.Fatalf("empty and filled tiles rendered identically")
	}
}

func TestRenderPNGCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPNGRenderer().RenderPNG(ctx, board.Board{}, Options{}); err == nil {
		t.Fatalf("cancelled context should fail")
	}
}

func TestTileCacheReuse(t *testing.T) {
	a, err := renderTileImage(8, 32)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := renderTileImage(8, 32)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if a != b {
		t.Fatalf("expected cached tile image")
	}
	if styleFor(8192) != superTile {
		t.Fatalf("values above 2048 should use the super tile style")
	}
}

func imgOrigin() image.Point {
	return image.Pt(sideMargin, topMargin)
}
