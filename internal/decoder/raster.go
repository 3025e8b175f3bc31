package decoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
)

// Raster is the production Decoder for the JPEG/PNG/GTIFF formats
// this system's codec package already knows how to re-encode. It
// reads the whole object through imagestore.Source and decodes it
// with the standard library's image.Decode registry (extended by the
// blank tiff import), the same dispatch-by-registered-format idiom
// the corpus's own codec/image handling uses.
//
// Raster never returns a real sensor model: no photogrammetry library
// for deriving one from image metadata exists anywhere in the
// retrieval pack, so every image it opens gets sensormodel.Degenerate,
// leaving world geometry null on lifted features per spec §4.A.
// NITF is not decodable by any library in the pack either; Open
// rejects it rather than silently misinterpreting the bytes.
type Raster struct{}

func (Raster) Open(ctx context.Context, store imagestore.Source, uri string) (ImageMetadata, sensormodel.Model, error) {
	size, err := store.Size(ctx, uri)
	if err != nil {
		return ImageMetadata{}, nil, fmt.Errorf("stat %s: %w", uri, err)
	}
	data, err := store.ReadRange(ctx, uri, 0, size)
	if err != nil {
		return ImageMetadata{}, nil, fmt.Errorf("read %s: %w", uri, err)
	}

	img, formatName, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageMetadata{}, nil, fmt.Errorf("decode %s: %w", uri, err)
	}

	format, err := tileFormatOf(formatName)
	if err != nil {
		return ImageMetadata{}, nil, fmt.Errorf("%s: %w", uri, err)
	}

	bounds := img.Bounds()
	meta := ImageMetadata{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   format,
		SourceID: uri,
		Image:    img,
	}
	return meta, sensormodel.Degenerate{}, nil
}

func tileFormatOf(registeredName string) (model.TileFormat, error) {
	switch registeredName {
	case "jpeg":
		return model.TileFormatJPEG, nil
	case "png":
		return model.TileFormatPNG, nil
	case "tiff":
		return model.TileFormatGTIFF, nil
	default:
		return "", fmt.Errorf("unsupported decoded image format %q", registeredName)
	}
}
