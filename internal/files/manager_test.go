package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/storage"
)

// fakeMeta is an in-memory stand-in for the document store.
type fakeMeta struct {
	mu    sync.Mutex
	files []*metadata.File
}

func (m *fakeMeta) InsertFile(_ context.Context, f *metadata.File) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	cp.ID = primitive.NewObjectID()
	m.files = append(m.files, &cp)
	return cp.ID, nil
}

func (m *fakeMeta) FileByID(_ context.Context, id primitive.ObjectID) (*metadata.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ID == id {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *fakeMeta) FileByIDAndOwner(_ context.Context, id, owner primitive.ObjectID) (*metadata.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ID == id && f.UserID == owner {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *fakeMeta) ListFiles(_ context.Context, owner primitive.ObjectID, parent any, skip, limit int64) ([]metadata.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metadata.File
	// Newest first: reverse insertion order.
	for i := len(m.files) - 1; i >= 0; i-- {
		f := m.files[i]
		if f.UserID != owner || f.ParentID != parent {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if int64(len(out)) == limit {
			break
		}
		out = append(out, *f)
	}
	return out, nil
}

func (m *fakeMeta) SetFilePublic(_ context.Context, id, owner primitive.ObjectID, public bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ID == id && f.UserID == owner {
			f.IsPublic = public
		}
	}
	return nil
}

// fakeDispatcher records thumbnail handoffs.
type fakeDispatcher struct {
	ch chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{ch: make(chan string, 16)}
}

func (d *fakeDispatcher) EnqueueThumbnail(_ context.Context, ownerID, fileID string) error {
	d.ch <- ownerID + ":" + fileID
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeMeta, *fakeDispatcher) {
	t.Helper()
	content, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	meta := &fakeMeta{}
	disp := newFakeDispatcher()
	return NewManager(meta, content, disp), meta, disp
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

var ownerID = primitive.NewObjectID().Hex()

func TestCreate_ValidationOrder(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
		want   string
	}{
		{"no name", CreateParams{Type: TypeFile, Data: b64("x")}, "Missing name"},
		{"no type", CreateParams{Name: "a.txt", Data: b64("x")}, "Missing type"},
		{"bad type", CreateParams{Name: "a.txt", Type: "archive", Data: b64("x")}, "Missing type"},
		{"no data for file", CreateParams{Name: "a.txt", Type: TypeFile}, "Missing data"},
		{"no data for image", CreateParams{Name: "a.png", Type: TypeImage}, "Missing data"},
		{"absent parent", CreateParams{Name: "a.txt", Type: TypeFile, Data: b64("x"), ParentID: primitive.NewObjectID().Hex()}, "Parent not found"},
	}
	for _, tc := range cases {
		_, err := m.Create(ctx, ownerID, tc.params)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if verr.Message != tc.want {
			t.Errorf("%s: message = %q, want %q", tc.name, verr.Message, tc.want)
		}
	}
}

func TestCreate_FolderIgnoresData(t *testing.T) {
	m, _, _ := newTestManager(t)

	rec, err := m.Create(context.Background(), ownerID, CreateParams{
		Name: "docs", Type: TypeFolder, Data: b64("ignored"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Type != TypeFolder {
		t.Errorf("type = %q", rec.Type)
	}
	if rec.ParentID != RootSentinel {
		t.Errorf("parentId = %v, want %d", rec.ParentID, RootSentinel)
	}
}

func TestCreate_RootSentinelForms(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, parent := range []any{nil, "0", float64(0), ""} {
		rec, err := m.Create(ctx, ownerID, CreateParams{
			Name: "a.txt", Type: TypeFile, Data: b64("x"), ParentID: parent,
		})
		if err != nil {
			t.Fatalf("Create(parent=%v): %v", parent, err)
		}
		if rec.ParentID != RootSentinel {
			t.Errorf("Create(parent=%v): parentId = %v, want %d", parent, rec.ParentID, RootSentinel)
		}
	}
}

func TestCreate_UnderFolder(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	folder, err := m.Create(ctx, ownerID, CreateParams{Name: "docs", Type: TypeFolder})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	rec, err := m.Create(ctx, ownerID, CreateParams{
		Name: "a.txt", Type: TypeFile, Data: b64("x"), ParentID: folder.ID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if rec.ParentID != folder.ID {
		t.Errorf("parentId = %v, want %q", rec.ParentID, folder.ID)
	}
}

func TestCreate_ParentMustBeFolder(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	file, err := m.Create(ctx, ownerID, CreateParams{Name: "a.txt", Type: TypeFile, Data: b64("x")})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	_, err = m.Create(ctx, ownerID, CreateParams{
		Name: "b.txt", Type: TypeFile, Data: b64("y"), ParentID: file.ID,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "Parent is not a folder" {
		t.Fatalf("expected 'Parent is not a folder', got %v", err)
	}
}

func TestCreate_ParentOwnershipNotChecked(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	folder, err := m.Create(ctx, ownerID, CreateParams{Name: "shared", Type: TypeFolder})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	// Another principal may attach children to a folder it does not own.
	other := primitive.NewObjectID().Hex()
	rec, err := m.Create(ctx, other, CreateParams{
		Name: "theirs.txt", Type: TypeFile, Data: b64("x"), ParentID: folder.ID,
	})
	if err != nil {
		t.Fatalf("create under foreign folder: %v", err)
	}
	if rec.UserID != other {
		t.Errorf("userId = %q, want %q", rec.UserID, other)
	}
}

func TestCreate_ImageDispatchesThumbnailJob(t *testing.T) {
	m, _, disp := newTestManager(t)

	rec, err := m.Create(context.Background(), ownerID, CreateParams{
		Name: "pic.png", Type: TypeImage, Data: b64("not-a-real-png"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case got := <-disp.ch:
		want := ownerID + ":" + rec.ID
		if got != want {
			t.Errorf("job = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no thumbnail job dispatched")
	}
}

func TestCreate_FileDoesNotDispatch(t *testing.T) {
	m, _, disp := newTestManager(t)

	if _, err := m.Create(context.Background(), ownerID, CreateParams{
		Name: "a.txt", Type: TypeFile, Data: b64("x"),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case got := <-disp.ch:
		t.Fatalf("unexpected job dispatched: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGet_NotFoundCausesIndistinguishable(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "a.txt", Type: TypeFile, Data: b64("x")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := primitive.NewObjectID().Hex()
	for _, id := range []string{
		"nonsense",                     // malformed
		primitive.NewObjectID().Hex(),  // absent
		rec.ID,                         // exists, queried below as other
	} {
		requester := ownerID
		if id == rec.ID {
			requester = other
		}
		_, err := m.Get(ctx, requester, id)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): err = %v, want ErrNotFound", id, err)
		}
	}

	got, err := m.Get(ctx, ownerID, rec.ID)
	if err != nil {
		t.Fatalf("Get own file: %v", err)
	}
	if got.ID != rec.ID || got.Name != "a.txt" {
		t.Errorf("got %+v", got)
	}
}

func TestList_PaginationNewestFirst(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	const total = 45
	var created []string
	for i := 0; i < total; i++ {
		rec, err := m.Create(ctx, ownerID, CreateParams{
			Name: fmt.Sprintf("f%02d.txt", i), Type: TypeFile, Data: b64("x"),
		})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		created = append(created, rec.ID)
	}

	var seen []string
	for page := 0; ; page++ {
		recs, err := m.List(ctx, ownerID, "", page)
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		if len(recs) > PageSize {
			t.Fatalf("page %d has %d records, max %d", page, len(recs), PageSize)
		}
		if len(recs) == 0 {
			break
		}
		for _, r := range recs {
			seen = append(seen, r.ID)
		}
	}

	if len(seen) != total {
		t.Fatalf("concatenated pages have %d records, want %d", len(seen), total)
	}
	// Newest first: reverse of creation order, each exactly once.
	for i, id := range seen {
		if want := created[total-1-i]; id != want {
			t.Fatalf("position %d: id = %s, want %s", i, id, want)
		}
	}
}

func TestList_MalformedParentIsEmptyPage(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, ownerID, CreateParams{Name: "a.txt", Type: TypeFile, Data: b64("x")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recs, err := m.List(ctx, ownerID, "not-an-id", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestList_FiltersByParent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	folder, _ := m.Create(ctx, ownerID, CreateParams{Name: "docs", Type: TypeFolder})
	inside, _ := m.Create(ctx, ownerID, CreateParams{Name: "in.txt", Type: TypeFile, Data: b64("x"), ParentID: folder.ID})
	m.Create(ctx, ownerID, CreateParams{Name: "out.txt", Type: TypeFile, Data: b64("x")})

	recs, err := m.List(ctx, ownerID, folder.ID, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != inside.ID {
		t.Fatalf("got %+v, want just %s", recs, inside.ID)
	}
	if recs[0].ParentID != folder.ID {
		t.Errorf("parentId = %v, want %q", recs[0].ParentID, folder.ID)
	}
}

func TestSetVisibility_PublishUnpublishIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "a.txt", Type: TypeFile, Data: b64("x")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pub, err := m.SetVisibility(ctx, ownerID, rec.ID, true)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !pub.IsPublic {
		t.Error("isPublic = false after publish")
	}

	unpub, err := m.SetVisibility(ctx, ownerID, rec.ID, false)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if unpub.IsPublic {
		t.Error("isPublic = true after unpublish")
	}

	// Repeating is a no-op success returning the same result.
	again, err := m.SetVisibility(ctx, ownerID, rec.ID, false)
	if err != nil {
		t.Fatalf("repeat unpublish: %v", err)
	}
	if again.IsPublic != unpub.IsPublic || again.ID != unpub.ID {
		t.Errorf("repeat differs: %+v vs %+v", again, unpub)
	}

	if _, err := m.SetVisibility(ctx, ownerID, primitive.NewObjectID().Hex(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("absent id: err = %v, want ErrNotFound", err)
	}
}

func TestReadContent_RoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	payload := "hello, content store"
	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "note.txt", Type: TypeFile, Data: b64(payload)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	path, contentType, err := m.ReadContent(ctx, ownerID, rec.ID, "")
	if err != nil {
		t.Fatalf("ReadContent: %v", err)
	}
	if contentType != "text/plain; charset=utf-8" {
		t.Errorf("content type = %q", contentType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resolved path: %v", err)
	}
	if string(data) != payload {
		t.Errorf("content = %q, want %q", data, payload)
	}
}

func TestReadContent_AccessRules(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "secret.txt", Type: TypeFile, Data: b64("x")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Private: anonymous and foreign requesters get NotFound, never a
	// distinct forbidden error.
	if _, _, err := m.ReadContent(ctx, "", rec.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("anonymous: err = %v, want ErrNotFound", err)
	}
	other := primitive.NewObjectID().Hex()
	if _, _, err := m.ReadContent(ctx, other, rec.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign: err = %v, want ErrNotFound", err)
	}

	// Published: anyone may read.
	if _, err := m.SetVisibility(ctx, ownerID, rec.ID, true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, _, err := m.ReadContent(ctx, "", rec.ID, ""); err != nil {
		t.Errorf("anonymous after publish: %v", err)
	}
}

func TestReadContent_FolderHasNoContent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "docs", Type: TypeFolder})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, _, err = m.ReadContent(ctx, ownerID, rec.ID, "")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "A folder doesn't have content" {
		t.Fatalf("err = %v, want folder domain error", err)
	}
}

func TestReadContent_MissingVariantIsNotFound(t *testing.T) {
	m, meta, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, ownerID, CreateParams{Name: "pic.png", Type: TypeImage, Data: b64("fake image bytes")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The base blob exists and resolves.
	if _, _, err := m.ReadContent(ctx, ownerID, rec.ID, ""); err != nil {
		t.Fatalf("base content: %v", err)
	}

	// The variant was never produced, so it is NotFound even though the
	// metadata row and base blob exist.
	if _, _, err := m.ReadContent(ctx, ownerID, rec.ID, "250"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing variant: err = %v, want ErrNotFound", err)
	}

	// Produce it out-of-band; now it resolves to the _250 path.
	doc, _ := meta.FileByID(ctx, metadata.ObjectIDOrNil(rec.ID))
	if err := os.WriteFile(doc.LocalPath+"_250", []byte("small"), 0644); err != nil {
		t.Fatalf("write variant: %v", err)
	}
	path, _, err := m.ReadContent(ctx, ownerID, rec.ID, "250")
	if err != nil {
		t.Fatalf("variant after write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "small" {
		t.Errorf("variant content = %q", data)
	}
}

func TestReadContent_ContentTypeFromName(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		want string
	}{
		{"pic.png", "image/png"},
		{"noextension", "text/plain; charset=utf-8"},
	}
	for _, tc := range cases {
		rec, err := m.Create(ctx, ownerID, CreateParams{Name: tc.name, Type: TypeFile, Data: b64("x")})
		if err != nil {
			t.Fatalf("Create %s: %v", tc.name, err)
		}
		_, contentType, err := m.ReadContent(ctx, ownerID, rec.ID, "")
		if err != nil {
			t.Fatalf("ReadContent %s: %v", tc.name, err)
		}
		if contentType != tc.want {
			t.Errorf("%s: content type = %q, want %q", tc.name, contentType, tc.want)
		}
	}
}
