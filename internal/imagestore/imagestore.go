// Package imagestore defines the narrow contract for the object store
// where source imagery lives — an out-of-scope external collaborator
// per spec §1, treated here purely as an interface so the rest of the
// system can be tested against a stub without a real object store.
package imagestore

import "context"

// Source reads byte ranges from an image identified by URI. The
// interface allows partial reads, but decoder.Raster reads the whole
// object through it, so an image it decodes is fully materialized in
// memory.
type Source interface {
	// ReadRange returns the bytes of uri in [offset, offset+length).
	ReadRange(ctx context.Context, uri string, offset, length int64) ([]byte, error)
	// Size returns the total byte length of uri.
	Size(ctx context.Context, uri string) (int64, error)
}
