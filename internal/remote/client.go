// Package remote defines the client interface to the authoritative remote
// store and its HTTP implementation.
//
// All calls are request/response; there is no streaming. Failures are
// classified (transient, auth, validation) so the sync engine can decide
// between retrying, surfacing, and dropping.
package remote

import (
	"context"
	"io"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// ServerRecord is one row as the remote store holds it.
type ServerRecord struct {
	// ServerID is the authoritative identifier assigned by the remote
	// store on creation.
	ServerID string

	// Fields holds the record's remaining columns.
	Fields map[string]any
}

// Store issues CRUD calls against the authoritative remote store.
type Store interface {
	// Create inserts a new row and returns its server-assigned identity.
	Create(ctx context.Context, table schema.Table, payload map[string]any) (ServerRecord, error)

	// Update overwrites the row identified by serverID.
	Update(ctx context.Context, table schema.Table, serverID string, payload map[string]any) (map[string]any, error)

	// Delete removes the row identified by serverID. Deleting a row that
	// no longer exists is not an error.
	Delete(ctx context.Context, table schema.Table, serverID string) error

	// List returns all rows in table matching the filter (ANDed column
	// equality). An empty filter returns every row owned by the caller.
	List(ctx context.Context, table schema.Table, filter map[string]string) ([]ServerRecord, error)

	// Upload stores a binary attachment and returns its remote URL.
	Upload(ctx context.Context, file io.Reader, kind schema.PhotoKind, ownerID, fileName string) (string, error)
}

// Identity reports who the current user is. The sync engine keeps
// functioning in enqueue-only mode when the identity check itself is
// unreachable, using the last cached value.
type Identity interface {
	// CurrentUserID returns the signed-in user's ID, or "" when no user
	// is signed in.
	CurrentUserID(ctx context.Context) (string, error)
}
