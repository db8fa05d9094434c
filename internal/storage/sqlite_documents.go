package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"calsched/internal/document"
)

type sqliteDocuments struct{ s *sqliteStore }

const documentColumns = `id, component_id, contribution_id, filename, size, mime_type, doc_type, owner_id,
  versioned, public, locked, private, created_ns, updated_ns`

func scanDocument(r rowScanner) (document.Document, error) {
	var (
		d                               document.Document
		typ                             string
		versioned, public, locked, priv int
		createdNS, updatedNS            int64
	)
	err := r.Scan(&d.ID, &d.ComponentID, &d.ContributionID, &d.Filename, &d.Size, &d.MimeType, &typ, &d.OwnerID,
		&versioned, &public, &locked, &priv, &createdNS, &updatedNS)
	if err != nil {
		return document.Document{}, err
	}
	d.Type = document.Type(typ)
	d.Versioned, d.Public, d.Locked, d.Private = versioned != 0, public != 0, locked != 0, priv != 0
	d.CreatedAt = fromNanos(createdNS)
	d.UpdatedAt = fromNanos(updatedNS)
	return d, nil
}

func (m sqliteDocuments) FindByName(ctx context.Context, componentID, contributionID, filename string) (mo.Option[document.Document], error) {
	d, err := scanDocument(m.s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE component_id = ? AND contribution_id = ? AND filename = ?
		 ORDER BY created_ns, id LIMIT 1`,
		componentID, contributionID, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[document.Document](), nil
	}
	if err != nil {
		return mo.None[document.Document](), err
	}
	return mo.Some(d), nil
}

func (m sqliteDocuments) ListByContribution(ctx context.Context, componentID, contributionID string) ([]document.Document, error) {
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE component_id = ? AND contribution_id = ? ORDER BY created_ns, id`,
		componentID, contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (m sqliteDocuments) Create(ctx context.Context, d document.Document, content []byte) (document.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	_, err := m.s.db.ExecContext(ctx,
		`INSERT INTO documents(`+documentColumns+`, content) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ComponentID, d.ContributionID, d.Filename, d.Size, d.MimeType, string(d.Type), d.OwnerID,
		boolInt(d.Versioned), boolInt(d.Public), boolInt(d.Locked), boolInt(d.Private),
		nanos(d.CreatedAt), nanos(d.UpdatedAt), content,
	)
	if err != nil {
		return document.Document{}, err
	}
	return d, nil
}

func (m sqliteDocuments) UpdateContent(ctx context.Context, id string, content []byte, mimeType string) (document.Document, error) {
	res, err := m.s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, size = ?, mime_type = ?, updated_ns = ? WHERE id = ?`,
		content, len(content), mimeType, nanos(time.Now()), id)
	if err != nil {
		return document.Document{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return scanDocument(m.s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

func (m sqliteDocuments) Unlock(ctx context.Context, id string, opt document.UnlockOptions) error {
	res, err := m.s.db.ExecContext(ctx,
		`UPDATE documents SET locked = 0, private = ? WHERE id = ?`, boolInt(opt.PrivateVersion), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return nil
}
