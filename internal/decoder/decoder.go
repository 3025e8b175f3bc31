// Package decoder defines the narrow contract for the image-decoding
// library — an out-of-scope external collaborator per spec §1 that
// derives full-image dimensions, metadata, and a sensor model from an
// opened image.
package decoder

import (
	"context"
	"image"

	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
)

// ImageMetadata is the subset of decoded metadata the image workflow
// needs to plan regions and lift features (spec §4.G step 3). Image is
// populated by decoders that hold the fully-decoded raster in memory
// (see Raster); decoders that stream tiles some other way may leave it
// nil, since only a TileSourceFactory built for that decoder reads it.
type ImageMetadata struct {
	Width, Height int
	Format        model.TileFormat
	SourceID      string
	Category      string
	Image         image.Image
}

// Decoder opens an image from a Source and derives its metadata and
// sensor model. Implementations wrap whatever real photogrammetry/
// image-decoding library a deployment chooses; none is vendored here.
type Decoder interface {
	Open(ctx context.Context, store imagestore.Source, uri string) (ImageMetadata, sensormodel.Model, error)
}
