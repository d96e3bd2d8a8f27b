package files

import (
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/storage"
)

// Manager validates and executes operations against the metadata store
// and the content store, and hands image jobs to the dispatcher.
type Manager struct {
	meta    MetadataStore
	content ContentStore
	jobs    Dispatcher
}

// NewManager creates a manager around the injected stores.
func NewManager(meta MetadataStore, content ContentStore, jobs Dispatcher) *Manager {
	return &Manager{meta: meta, content: content, jobs: jobs}
}

// Create validates params in order (first failure wins), persists the
// metadata row, writes the blob for non-folder types and dispatches a
// thumbnail job for images.
func (m *Manager) Create(ctx context.Context, ownerID string, params CreateParams) (*File, error) {
	if params.Name == "" {
		return nil, &ValidationError{Message: "Missing name"}
	}
	if params.Type != TypeFolder && params.Type != TypeFile && params.Type != TypeImage {
		return nil, &ValidationError{Message: "Missing type"}
	}
	if params.Data == "" && params.Type != TypeFolder {
		return nil, &ValidationError{Message: "Missing data"}
	}

	root := isRootSentinel(params.ParentID)
	var parentOID any = metadata.RootParent
	if !root {
		oid := metadata.ObjectIDOrNil(parentString(params.ParentID))
		parent, err := m.meta.FileByID(ctx, oid)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, &ValidationError{Message: "Parent not found"}
		}
		// Existence and type only; parent ownership is not re-checked.
		if parent.Type != TypeFolder {
			return nil, &ValidationError{Message: "Parent is not a folder"}
		}
		parentOID = oid
	}

	doc := &metadata.File{
		UserID:   metadata.ObjectIDOrNil(ownerID),
		Name:     params.Name,
		Type:     params.Type,
		IsPublic: params.IsPublic,
		ParentID: parentOID,
	}

	if params.Type != TypeFolder {
		data, err := base64.StdEncoding.DecodeString(params.Data)
		if err != nil {
			return nil, &ValidationError{Message: "Invalid data"}
		}
		path, err := m.content.WriteBlob(data)
		if err != nil {
			return nil, err
		}
		doc.LocalPath = path
	}

	id, err := m.meta.InsertFile(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id

	if params.Type == TypeImage {
		// Fire and forget: the response never waits on the queue and
		// enqueue failures are not retried here.
		go func() {
			if err := m.jobs.EnqueueThumbnail(context.Background(), ownerID, id.Hex()); err != nil {
				logging.Warn("thumbnail job handoff failed",
					zap.String("file_id", id.Hex()),
					zap.Error(err))
			}
		}()
	}

	out := normalize(doc)
	if !root {
		out.ParentID = parentString(params.ParentID)
	}
	return out, nil
}

// Get returns the file matching both id and owner. Malformed ids, absent
// records and other owners' records all yield ErrNotFound.
func (m *Manager) Get(ctx context.Context, ownerID, fileID string) (*File, error) {
	if !validID(fileID) {
		return nil, ErrNotFound
	}
	f, err := m.meta.FileByIDAndOwner(ctx, metadata.ObjectIDOrNil(fileID), metadata.ObjectIDOrNil(ownerID))
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	return normalize(f), nil
}

// List returns one page (at most PageSize records, newest first) of the
// owner's files under the given parent. A malformed parent id matches
// nothing and yields an empty page, never an error.
func (m *Manager) List(ctx context.Context, ownerID, parentID string, page int) ([]*File, error) {
	var parent any = metadata.RootParent
	if parentID != "" && parentID != metadata.RootParent {
		parent = metadata.ObjectIDOrNil(parentID)
	}
	if page < 0 {
		page = 0
	}

	docs, err := m.meta.ListFiles(ctx, metadata.ObjectIDOrNil(ownerID), parent, int64(page)*PageSize, PageSize)
	if err != nil {
		return nil, err
	}

	out := make([]*File, 0, len(docs))
	for i := range docs {
		out = append(out, normalize(&docs[i]))
	}
	return out, nil
}

// SetVisibility updates isPublic on the owner's file and returns the
// refreshed record. Repeating with the same value is a no-op success.
func (m *Manager) SetVisibility(ctx context.Context, ownerID, fileID string, public bool) (*File, error) {
	if !validID(fileID) {
		return nil, ErrNotFound
	}
	id := metadata.ObjectIDOrNil(fileID)
	owner := metadata.ObjectIDOrNil(ownerID)

	f, err := m.meta.FileByIDAndOwner(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	if err := m.meta.SetFilePublic(ctx, id, owner, public); err != nil {
		return nil, err
	}
	f.IsPublic = public
	return normalize(f), nil
}

// ReadContent resolves the canonical absolute path and content type of a
// file's blob, or of a derived variant when variant is non-empty.
// Access requires the file to be public or owned by the requester; the
// refusal is indistinguishable from the file not existing.
func (m *Manager) ReadContent(ctx context.Context, requesterID, fileID, variant string) (path, contentType string, err error) {
	if !validID(fileID) {
		return "", "", ErrNotFound
	}
	f, err := m.meta.FileByID(ctx, metadata.ObjectIDOrNil(fileID))
	if err != nil {
		return "", "", err
	}
	if f == nil {
		return "", "", ErrNotFound
	}
	if !f.IsPublic && (requesterID == "" || f.UserID.Hex() != requesterID) {
		return "", "", ErrNotFound
	}
	if f.Type == TypeFolder {
		return "", "", &ValidationError{Message: "A folder doesn't have content"}
	}

	resolved, err := m.content.ResolveContent(f.LocalPath, variant)
	if errors.Is(err, storage.ErrNoContent) {
		// A recorded-but-missing blob is indistinguishable from an
		// absent record.
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}

	contentType = mime.TypeByExtension(filepath.Ext(f.Name))
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return resolved, contentType, nil
}
