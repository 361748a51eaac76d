// Package export defines the port for mirroring journaled operations to
// an external store. The worker drives an Exporter row by row; the
// journal's sync columns track what has been mirrored.
package export

import (
	"context"

	"coffer/internal/storage"
)

// Ports for outbound adapters.
type (
	// Exporter appends one operation to the external mirror and returns
	// a reference to the written row.
	Exporter interface {
		Append(ctx context.Context, op storage.Operation) (rowRef string, err error)
	}
)
