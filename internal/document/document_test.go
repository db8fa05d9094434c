package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsched/internal/workqueue"
	logx "calsched/pkg/logx"
)

type memRepo struct {
	docs     []Document
	content  map[string][]byte
	unlocked map[string]UnlockOptions
}

func newMemRepo(seed ...Document) *memRepo {
	return &memRepo{docs: seed, content: map[string][]byte{}, unlocked: map[string]UnlockOptions{}}
}

func (m *memRepo) FindByName(_ context.Context, comp, contrib, name string) (mo.Option[Document], error) {
	for _, d := range m.docs {
		if d.ComponentID == comp && d.ContributionID == contrib && d.Filename == name {
			return mo.Some(d), nil
		}
	}
	return mo.None[Document](), nil
}

func (m *memRepo) ListByContribution(_ context.Context, comp, contrib string) ([]Document, error) {
	var out []Document
	for _, d := range m.docs {
		if d.ComponentID == comp && d.ContributionID == contrib {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, d Document, content []byte) (Document, error) {
	m.docs = append(m.docs, d)
	m.content[d.ID] = content
	return d, nil
}

func (m *memRepo) UpdateContent(_ context.Context, id string, content []byte, mimeType string) (Document, error) {
	for i, d := range m.docs {
		if d.ID == id {
			d.Size = int64(len(content))
			d.MimeType = mimeType
			m.docs[i] = d
			m.content[id] = content
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *memRepo) Unlock(_ context.Context, id string, opt UnlockOptions) error {
	m.unlocked[id] = opt
	return nil
}

func writeItem(t *testing.T, name string, files map[string]string) (workqueue.Item, []workqueue.File) {
	t.Helper()
	it, ok := workqueue.ParseName(name)
	require.True(t, ok)
	it.Path = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(it.Path, 0o755))
	for n, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(it.Path, n), []byte(body), 0o644))
	}
	fs, other, err := workqueue.Files(it)
	require.NoError(t, err)
	require.Empty(t, other)
	return it, fs
}

func TestReconcileCreatesWithDefaults(t *testing.T) {
	repo := newMemRepo()
	r := NewReconciler(repo, []string{"catpart", ".SLDPRT"}, logx.Nop())
	it, files := writeItem(t, "a_C42_P7", map[string]string{"report.step": "solid"})

	out, err := r.Reconcile(context.Background(), it, files[0])
	require.NoError(t, err)
	assert.Equal(t, Created, out)
	require.Len(t, repo.docs, 1)
	d := repo.docs[0]
	assert.Equal(t, "C42", d.ComponentID)
	assert.Equal(t, "P7", d.ContributionID)
	assert.Equal(t, "report.step", d.Filename)
	assert.Equal(t, DefaultOwner, d.OwnerID)
	assert.Equal(t, TypeAttachment, d.Type)
	assert.Equal(t, int64(5), d.Size)
	assert.Equal(t, []byte("solid"), repo.content[d.ID])
}

func TestReconcileInheritsFromSource(t *testing.T) {
	repo := newMemRepo(
		Document{ID: "pdf", ComponentID: "C42", ContributionID: "P7", Filename: "bracket.pdf", OwnerID: "9", Type: TypeForm},
		Document{ID: "cad", ComponentID: "C42", ContributionID: "P7", Filename: "bracket.CATPart", OwnerID: "12", Type: TypeImage},
	)
	r := NewReconciler(repo, []string{"catpart"}, logx.Nop())
	it, files := writeItem(t, "a_C42_P7", map[string]string{"bracket.3dxml": "mesh"})

	out, err := r.Reconcile(context.Background(), it, files[0])
	require.NoError(t, err)
	assert.Equal(t, Created, out)
	got := repo.docs[len(repo.docs)-1]
	assert.Equal(t, "12", got.OwnerID, "owner comes from the supported-format sibling only")
	assert.Equal(t, TypeImage, got.Type)
}

func TestReconcileVersionedUpdatesAndUnlocks(t *testing.T) {
	repo := newMemRepo(
		Document{ID: "d1", ComponentID: "C1", ContributionID: "P1", Filename: "part.3dxml", Versioned: true, Locked: true},
	)
	r := NewReconciler(repo, nil, logx.Nop())
	it, files := writeItem(t, "v_C1_P1", map[string]string{"part.3dxml": "v2-content"})

	out, err := r.Reconcile(context.Background(), it, files[0])
	require.NoError(t, err)
	assert.Equal(t, Updated, out)
	assert.Len(t, repo.docs, 1)
	assert.Equal(t, int64(10), repo.docs[0].Size)
	assert.Equal(t, UnlockOptions{Upload: true, PrivateVersion: true}, repo.unlocked["d1"])
}

func TestReconcileReplayDoesNotDuplicate(t *testing.T) {
	repo := newMemRepo()
	r := NewReconciler(repo, nil, logx.Nop())
	r.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	it, files := writeItem(t, "a_C_P", map[string]string{"a.step": "1", "b.step": "2"})

	for i := 0; i < 2; i++ {
		for _, f := range files {
			_, err := r.Reconcile(context.Background(), it, f)
			require.NoError(t, err)
		}
	}
	assert.Len(t, repo.docs, 2)
	assert.Empty(t, repo.unlocked, "unversioned documents are never unlocked")
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeType("x.PDF"))
	assert.Equal(t, "application/octet-stream", MimeType("x.catpart"))
}
