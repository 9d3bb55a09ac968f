package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// tileSVG is a rounded square with a soft inner highlight; fill colours are substituted per value.
const tileSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<rect x="0" y="0" width="100" height="100" rx="9" ry="9" fill="%s"/>
<rect x="4" y="4" width="92" height="46" rx="7" ry="7" fill="%s" fill-opacity="0.18"/>
</svg>`

type tileStyle struct {
	fill string
	text color.NRGBA
}

var (
	darkText  = color.NRGBA{R: 119, G: 110, B: 101, A: 255}
	lightText = color.NRGBA{R: 249, G: 246, B: 242, A: 255}

	tileStyles = map[int]tileStyle{
		0:    {fill: "#cdc1b4"},
		2:    {fill: "#eee4da", text: darkText},
		4:    {fill: "#ede0c8", text: darkText},
		8:    {fill: "#f2b179", text: lightText},
		16:   {fill: "#f59563", text: lightText},
		32:   {fill: "#f67c5f", text: lightText},
		64:   {fill: "#f65e3b", text: lightText},
		128:  {fill: "#edcf72", text: lightText},
		256:  {fill: "#edcc61", text: lightText},
		512:  {fill: "#edc850", text: lightText},
		1024: {fill: "#edc53f", text: lightText},
		2048: {fill: "#edc22e", text: lightText},
	}
	superTile = tileStyle{fill: "#3c3a32", text: lightText}
)

func styleFor(value int) tileStyle {
	if s, ok := tileStyles[value]; ok {
		return s
	}
	return superTile
}

type tileCacheKey struct {
	value int
	size  int
}

var (
	tileCache   = map[tileCacheKey]image.Image{}
	tileCacheMu sync.RWMutex
)

func renderTileImage(value, size int) (image.Image, error) {
	key := tileCacheKey{value: value, size: size}

	tileCacheMu.RLock()
	if img, ok := tileCache[key]; ok {
		tileCacheMu.RUnlock()
		return img, nil
	}
	tileCacheMu.RUnlock()

	style := styleFor(value)
	src := fmt.Sprintf(tileSVG, style.fill, "#ffffff")
	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("parse tile svg %d: %w", value, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	tileCacheMu.Lock()
	tileCache[key] = img
	tileCacheMu.Unlock()

	return img, nil
}
