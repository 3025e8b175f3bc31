package tiling

import (
	"testing"

	"github.com/mumuon/geovision-runner/internal/model"
)

func region(w, h int) model.PixelRect {
	return model.PixelRect{ULx: 0, ULy: 0, Width: w, Height: h}
}

func TestIteratorSingleTileWhenTileSizeEqualsRegion(t *testing.T) {
	it, err := NewIterator(region(2048, 2048), 2048, 0, model.TileFormatGTIFF, model.CompressionNone)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	tiles := All(it)
	if len(tiles) != 1 {
		t.Fatalf("expected 1 tile, got %d", len(tiles))
	}
	if tiles[0].Width != 2048 || tiles[0].Height != 2048 {
		t.Errorf("tile dims = %dx%d, want 2048x2048", tiles[0].Width, tiles[0].Height)
	}
}

func TestIteratorNoOverlapTilesRegionExactly(t *testing.T) {
	it, err := NewIterator(region(4096, 2048), 2048, 0, model.TileFormatGTIFF, model.CompressionNone)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	tiles := All(it)
	if len(tiles) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(tiles))
	}
	if tiles[0].ULx != 0 || tiles[1].ULx != 2048 {
		t.Errorf("unexpected tile origins: %+v", tiles)
	}
}

func TestIteratorClipsSmallerThanTileRegion(t *testing.T) {
	it, err := NewIterator(region(1000, 800), 2048, 0, model.TileFormatGTIFF, model.CompressionNone)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	tiles := All(it)
	if len(tiles) != 1 {
		t.Fatalf("expected 1 clipped tile, got %d", len(tiles))
	}
	if tiles[0].Width != 1000 || tiles[0].Height != 800 {
		t.Errorf("tile dims = %dx%d, want 1000x800", tiles[0].Width, tiles[0].Height)
	}
}

func TestIteratorMultiRegionFanoutScenario(t *testing.T) {
	// End-to-end scenario 2: 20000x20000 region sized 8192 area would
	// be split into 3x3 regions upstream; within one such region,
	// tiles of 2048 with overlap 50.
	r := region(8192, 8192)
	it, err := NewIterator(r, 2048, 50, model.TileFormatGTIFF, model.CompressionNone)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	tiles := All(it)
	want := Count(r, 2048, 50)
	if len(tiles) != want {
		t.Fatalf("produced %d tiles, Count() says %d", len(tiles), want)
	}
	for _, tile := range tiles {
		if tile.ULx+tile.Width > r.ULx+r.Width {
			t.Errorf("tile %+v exceeds region width", tile)
		}
		if tile.ULy+tile.Height > r.ULy+r.Height {
			t.Errorf("tile %+v exceeds region height", tile)
		}
	}
}

func TestIteratorRejectsOverlapGreaterOrEqualTileSize(t *testing.T) {
	if _, err := NewIterator(region(1000, 1000), 100, 100, model.TileFormatGTIFF, model.CompressionNone); err == nil {
		t.Fatal("expected error when overlap >= tile size")
	}
}

func TestCountMatchesFormulaWhenDimensionsExceedOverlap(t *testing.T) {
	r := region(4096, 4096)
	// step = 2048-50 = 1998; cols = ceil((4096-50)/1998) = ceil(4046/1998) = 3
	got := Count(r, 2048, 50)
	if got != 9 {
		t.Errorf("Count() = %d, want 9", got)
	}
}
