package region

import (
	"context"
	"fmt"
	"image"

	"github.com/mumuon/geovision-runner/internal/codec"
	"github.com/mumuon/geovision-runner/internal/decoder"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
)

// subImager is the interface every stdlib image.Image implementation
// (RGBA, NRGBA, Gray, ...) satisfies, used to crop a tile rectangle
// out of an already-decoded full image without copying through a
// generic pixel-by-pixel loop.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// TileSource produces the encoded pixel buffer and content type for
// one tile, the unit of work the endpoint client dispatches. It
// stands in for whatever full image-decoding pipeline a deployment
// wires up; image decoding itself is an out-of-scope external
// collaborator per spec §1.
type TileSource interface {
	ReadTile(ctx context.Context, tile model.TileDescriptor) (data []byte, contentType string, err error)
}

// RasterCropper implements TileSource against an already-decoded
// image.Image anchored at full-image pixel (0,0), cropping each
// tile's full-image-space rectangle and re-encoding it in the tile
// format/compression the ImageRequest named.
type RasterCropper struct {
	Image       image.Image
	Format      model.TileFormat
	Compression model.TileCompression
}

func (c RasterCropper) ReadTile(_ context.Context, tile model.TileDescriptor) ([]byte, string, error) {
	si, ok := c.Image.(subImager)
	if !ok {
		return nil, "", fmt.Errorf("image type %T does not support cropping", c.Image)
	}
	rect := image.Rect(tile.ULx, tile.ULy, tile.ULx+tile.Width, tile.ULy+tile.Height)
	cropped := si.SubImage(rect)

	cdc, err := codec.For(c.Format)
	if err != nil {
		return nil, "", err
	}
	data, err := cdc.Encode(cropped, c.Compression)
	if err != nil {
		return nil, "", fmt.Errorf("encode tile at (%d,%d): %w", tile.ULx, tile.ULy, err)
	}
	return data, cdc.ContentType(), nil
}

// TileSourceFactory builds the TileSource one opened image offers its
// regions, given the decoder's metadata and derived sensor model. The
// image workflow calls this once per job to dispatch region 0's tiles
// without needing to know how the concrete image-decoding collaborator
// represents decoded pixels.
type TileSourceFactory func(meta decoder.ImageMetadata, m sensormodel.Model) TileSource
