// Package tiling implements the pull-based tile iterator from spec
// §4.B: given a region rectangle, tile size, and overlap, it produces
// TileDescriptors lazily with no hidden state, restartable purely from
// the region bounds and tile parameters (spec §9's redesign note
// replacing the source's lazy generator).
package tiling

import (
	"fmt"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Iterator produces TileDescriptors for one region, pulled one at a
// time via Next. It holds only the current (i, j) step indices plus
// the immutable region/tile parameters — no generator/goroutine state.
type Iterator struct {
	region      model.PixelRect
	tileSize    int
	overlap     int
	format      model.TileFormat
	compression model.TileCompression

	step int // x-step and y-step (tileSize - overlap), precomputed
	i, j int // next tile's column/row index
	done bool
}

// NewIterator validates the region/tile parameters and returns an
// Iterator ready to produce the first TileDescriptor.
func NewIterator(region model.PixelRect, tileSize, overlap int, format model.TileFormat, compression model.TileCompression) (*Iterator, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	if overlap < 0 || overlap >= tileSize {
		return nil, fmt.Errorf("overlap %d must be >= 0 and < tile size %d", overlap, tileSize)
	}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("region must have positive width and height, got %dx%d", region.Width, region.Height)
	}
	return &Iterator{
		region:      region,
		tileSize:    tileSize,
		overlap:     overlap,
		format:      format,
		compression: compression,
		step:        tileSize - overlap,
	}, nil
}

// Next returns the next TileDescriptor and true, or a zero value and
// false once every tile in the region has been produced.
func (it *Iterator) Next() (model.TileDescriptor, bool) {
	if it.done {
		return model.TileDescriptor{}, false
	}

	ulx := it.region.ULx + it.i*it.step
	uly := it.region.ULy + it.j*it.step

	regionRightX := it.region.ULx + it.region.Width
	regionBottomY := it.region.ULy + it.region.Height

	if ulx >= regionRightX || uly >= regionBottomY {
		it.done = true
		return model.TileDescriptor{}, false
	}

	width := it.tileSize
	if ulx+width > regionRightX {
		width = regionRightX - ulx
	}
	height := it.tileSize
	if uly+height > regionBottomY {
		height = regionBottomY - uly
	}

	tile := model.TileDescriptor{
		ULx:         ulx,
		ULy:         uly,
		Width:       width,
		Height:      height,
		Format:      it.format,
		Compression: it.compression,
	}

	it.advance(ulx, uly, regionRightX, regionBottomY)
	return tile, true
}

// advance moves (i, j) to the next column, wrapping to the next row
// once the tile just emitted at (ulx, uly) reaches the region's right
// edge, and finishing once a row of tiles reaches the bottom edge.
func (it *Iterator) advance(ulx, uly, regionRightX, regionBottomY int) {
	if ulx+it.tileSize < regionRightX {
		it.i++
		return
	}
	it.i = 0
	if uly+it.tileSize >= regionBottomY {
		it.done = true
		return
	}
	it.j++
}

// Count returns the total number of tiles NewIterator's parameters
// will produce, matching spec §4.B's formula:
// ceil((W-O)/(T-O)) * ceil((H-O)/(T-O)) when dimensions exceed the
// overlap, else exactly one tile covering the region.
func Count(region model.PixelRect, tileSize, overlap int) int {
	step := tileSize - overlap
	cols := ceilDiv(max(region.Width-overlap, 0), step)
	rows := ceilDiv(max(region.Height-overlap, 0), step)
	if cols == 0 {
		cols = 1
	}
	if rows == 0 {
		rows = 1
	}
	return cols * rows
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// All drains the iterator into a slice. Intended for tests and for
// small regions; production dispatch pulls tile-by-tile via Next so
// the endpoint worker pool never has to buffer an entire region's
// tile list at once.
func All(it *Iterator) []model.TileDescriptor {
	var tiles []model.TileDescriptor
	for {
		t, ok := it.Next()
		if !ok {
			break
		}
		tiles = append(tiles, t)
	}
	return tiles
}
