package decoder

import (
	"context"

	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
)

// Stub is a fixed-metadata Decoder used by workflow tests in place of
// a real image-decoding/photogrammetry library.
type Stub struct {
	Metadata ImageMetadata
	Model    sensormodel.Model
	Err      error
}

func (s Stub) Open(_ context.Context, _ imagestore.Source, _ string) (ImageMetadata, sensormodel.Model, error) {
	if s.Err != nil {
		return ImageMetadata{}, nil, s.Err
	}
	model := s.Model
	if model == nil {
		model = sensormodel.Degenerate{}
	}
	return s.Metadata, model, nil
}
