package visual

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
)

// gradientPalette holds top and bottom colors, picked by scene index.
var gradientPalette = [][2]color.RGBA{
	{rgb(0x0f3460), rgb(0xe94560)},
	{rgb(0x1a1a2e), rgb(0xe94560)},
	{rgb(0x16213e), rgb(0x533483)},
	{rgb(0x0f0f23), rgb(0xe94560)},
	{rgb(0x1b262c), rgb(0x0f4c75)},
	{rgb(0x2d132c), rgb(0xee4540)},
	{rgb(0x121212), rgb(0x1db954)},
	{rgb(0x0d1117), rgb(0x58a6ff)},
	{rgb(0x1c1c3c), rgb(0xf39c12)},
	{rgb(0x0b0b2b), rgb(0x00d2ff)},
}

func rgb(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// GradientProvider draws a vertical two-color gradient locally. It never
// touches the network and only fails on invalid dimensions.
type GradientProvider struct{}

func (GradientProvider) Name() string { return SourceGradient }

func (GradientProvider) Fetch(_ context.Context, req Request) ([]byte, error) {
	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	idx := req.Index % len(gradientPalette)
	if idx < 0 {
		idx += len(gradientPalette)
	}
	top, bottom := gradientPalette[idx][0], gradientPalette[idx][1]

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		c := lerp(top, bottom, y, height-1)
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			row[x*4+0] = c.R
			row[x*4+1] = c.G
			row[x*4+2] = c.B
			row[x*4+3] = c.A
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lerp(a, b color.RGBA, pos, span int) color.RGBA {
	if span <= 0 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(span-pos) + int(y)*pos) / span)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xff}
}
