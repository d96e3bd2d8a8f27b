// Package files implements the file hierarchy manager: validation,
// ownership and visibility rules, pagination, content handoff and
// thumbnail job dispatch.
package files

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/filedepot/filedepot/internal/metadata"
)

// Entity types.
const (
	TypeFolder = "folder"
	TypeFile   = "file"
	TypeImage  = "image"
)

// RootSentinel is the numeric parent id meaning "no parent" in all wire
// shapes.
const RootSentinel = 0

// PageSize is the fixed page size for List.
const PageSize = 20

// ErrNotFound covers malformed ids, absent records and records the
// requester may not see. The three causes are deliberately
// indistinguishable so callers cannot probe for existence.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "Not found" }

// ValidationError carries the exact client-facing message for a rejected
// input or a domain conflict.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// File is the normalized wire form of a file record. ParentID is the
// numeric root sentinel for root records, the parent's hex id otherwise.
type File struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsPublic bool   `json:"isPublic"`
	ParentID any    `json:"parentId"`
}

// CreateParams are the inputs to Create. ParentID is kept loosely typed
// because the wire accepts the root sentinel in numeric or string form.
type CreateParams struct {
	Name     string
	Type     string
	ParentID any
	IsPublic bool
	Data     string // base64, empty for folders
}

// MetadataStore is the slice of the document store the manager consumes.
type MetadataStore interface {
	InsertFile(ctx context.Context, f *metadata.File) (primitive.ObjectID, error)
	FileByID(ctx context.Context, id primitive.ObjectID) (*metadata.File, error)
	FileByIDAndOwner(ctx context.Context, id, owner primitive.ObjectID) (*metadata.File, error)
	ListFiles(ctx context.Context, owner primitive.ObjectID, parent any, skip, limit int64) ([]metadata.File, error)
	SetFilePublic(ctx context.Context, id, owner primitive.ObjectID, public bool) error
}

// ContentStore persists raw blob bytes and resolves recorded paths.
type ContentStore interface {
	WriteBlob(data []byte) (string, error)
	ResolveContent(localPath, variant string) (string, error)
}

// Dispatcher is the enqueue-only outbound port for thumbnail jobs.
type Dispatcher interface {
	EnqueueThumbnail(ctx context.Context, ownerID, fileID string) error
}

// isRootSentinel reports whether a wire parentId value means "root".
// JSON numbers decode as float64.
func isRootSentinel(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case string:
		return p == "" || p == "0"
	case float64:
		return p == RootSentinel
	case int:
		return p == RootSentinel
	default:
		return false
	}
}

// parentString renders a wire parentId value as its string form.
func parentString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// normalize converts a stored document to its wire form.
func normalize(f *metadata.File) *File {
	out := &File{
		ID:       f.ID.Hex(),
		UserID:   f.UserID.Hex(),
		Name:     f.Name,
		Type:     f.Type,
		IsPublic: f.IsPublic,
		ParentID: RootSentinel,
	}
	if oid, ok := f.ParentID.(primitive.ObjectID); ok {
		out.ParentID = oid.Hex()
	}
	return out
}

// validID reports whether id is a 24-character hex identifier. Anything
// else is definitively invalid and is never looked up.
func validID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
