package decoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/model"
)

func encodedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestRasterOpenDecodesPNGAndReturnsDegenerateModel(t *testing.T) {
	uri := "s3://bucket/image.png"
	store := imagestore.NewMemory(map[string][]byte{uri: encodedPNG(t, 16, 12)})

	meta, m, err := Raster{}.Open(context.Background(), store, uri)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if meta.Width != 16 || meta.Height != 12 {
		t.Fatalf("expected 16x12, got %dx%d", meta.Width, meta.Height)
	}
	if meta.Format != model.TileFormatPNG {
		t.Fatalf("expected PNG format, got %s", meta.Format)
	}
	if meta.Image == nil {
		t.Fatalf("expected decoded Image to be populated")
	}
	if _, _, err := m.PixelToWorld(0, 0); err == nil {
		t.Fatalf("expected the degenerate sensor model to always error")
	}
}

func TestRasterOpenErrorsOnMissingObject(t *testing.T) {
	store := imagestore.NewMemory(map[string][]byte{})
	if _, _, err := (Raster{}).Open(context.Background(), store, "s3://bucket/missing.png"); err == nil {
		t.Fatalf("expected an error for a missing object")
	}
}
