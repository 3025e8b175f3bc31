package model

import "testing"

func TestValidFormatCompression(t *testing.T) {
	cases := []struct {
		format      TileFormat
		compression TileCompression
		want        bool
	}{
		{TileFormatNITF, CompressionNone, true},
		{TileFormatNITF, CompressionJPEG, true},
		{TileFormatNITF, CompressionJ2K, true},
		{TileFormatNITF, CompressionLZW, false},
		{TileFormatGTIFF, CompressionNone, true},
		{TileFormatGTIFF, CompressionJPEG, true},
		{TileFormatGTIFF, CompressionLZW, true},
		{TileFormatGTIFF, CompressionJ2K, false},
		{TileFormatPNG, CompressionNone, true},
		{TileFormatPNG, CompressionJPEG, false},
		{TileFormatJPEG, CompressionNone, true},
		{TileFormatJPEG, CompressionLZW, false},
		{"BOGUS", CompressionNone, false},
	}
	for _, tc := range cases {
		if got := ValidFormatCompression(tc.format, tc.compression); got != tc.want {
			t.Errorf("ValidFormatCompression(%s, %s) = %v, want %v", tc.format, tc.compression, got, tc.want)
		}
	}
}

func validRequest() ImageRequest {
	return ImageRequest{
		JobID:           "job-1",
		ImageURLs:       []string{"s3://bucket/image.tif"},
		TileSize:        2048,
		TileOverlap:     50,
		TileFormat:      TileFormatGTIFF,
		TileCompression: CompressionLZW,
	}
}

func TestImageRequestValidate(t *testing.T) {
	r := validRequest()
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}
}

func TestImageRequestValidateRejectsBadTileOverlap(t *testing.T) {
	r := validRequest()
	r.TileOverlap = r.TileSize
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for overlap >= tile size")
	}
}

func TestImageRequestValidateRejectsBadFormatCompression(t *testing.T) {
	r := validRequest()
	r.TileFormat = TileFormatPNG
	r.TileCompression = CompressionJPEG
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for invalid format/compression pair")
	}
}

func TestImageRequestValidateRejectsMissingURLs(t *testing.T) {
	r := validRequest()
	r.ImageURLs = nil
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for missing image urls")
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusSuccess, JobStatusPartial, JobStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []JobStatus{JobStatusNew, JobStatusInProgress}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestFeatureDominantClass(t *testing.T) {
	f := &Feature{Properties: FeatureProperties{FeatureClasses: []FeatureClass{
		{IRI: "car", Score: 0.4},
		{IRI: "ship", Score: 0.9},
		{IRI: "truck", Score: 0.5},
	}}}
	if got := f.DominantClass(); got.IRI != "ship" {
		t.Errorf("DominantClass() = %v, want ship", got.IRI)
	}
}
