package document

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"calsched/internal/workqueue"
	logx "calsched/pkg/logx"
)

type Outcome int

const (
	Created Outcome = iota + 1
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "none"
	}
}

// Reconciler turns converter output files into document records.
type Reconciler struct {
	repo      Repository
	supported map[string]struct{}
	now       func() time.Time
	log       logx.Logger
}

// NewReconciler builds a reconciler. supported lists the file extensions of
// the converter's input formats (".catpart", "sldprt", ...), case-insensitive.
func NewReconciler(repo Repository, supported []string, log logx.Logger) *Reconciler {
	set := make(map[string]struct{}, len(supported))
	for _, ext := range supported {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{repo: repo, supported: set, now: time.Now, log: log}
}

// Supported reports whether filename has one of the converter input formats.
func (r *Reconciler) Supported(filename string) bool {
	_, ok := r.supported[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Reconcile records f, found in work item it. A record with the same
// filename in the same contribution is updated in place, so a work item can be
// replayed without creating duplicates. Otherwise a new record is created; its
// owner and type are copied from the source document with the same base name.
func (r *Reconciler) Reconcile(ctx context.Context, it workqueue.Item, f workqueue.File) (Outcome, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", f.Path, err)
	}
	mimeType := MimeType(f.Name)

	existing, err := r.repo.FindByName(ctx, it.ComponentID, it.ContributionID, f.Name)
	if err != nil {
		return 0, err
	}
	if doc, ok := existing.Get(); ok {
		if _, err := r.repo.UpdateContent(ctx, doc.ID, content, mimeType); err != nil {
			return 0, err
		}
		if it.Versioned {
			opt := UnlockOptions{Upload: true, PrivateVersion: !doc.Public}
			if err := r.repo.Unlock(ctx, doc.ID, opt); err != nil {
				return 0, err
			}
		}
		r.log.Debug("document updated", logx.String("doc", doc.ID), logx.String("file", f.Name))
		return Updated, nil
	}

	owner, typ := DefaultOwner, TypeAttachment
	src, err := r.source(ctx, it, f.Name)
	if err != nil {
		return 0, err
	}
	if s, ok := src.Get(); ok {
		owner, typ = s.OwnerID, s.Type
	}
	now := r.now()
	doc := Document{
		ID:             uuid.NewString(),
		ComponentID:    it.ComponentID,
		ContributionID: it.ContributionID,
		Filename:       f.Name,
		Size:           int64(len(content)),
		MimeType:       mimeType,
		Type:           typ,
		OwnerID:        owner,
		Versioned:      it.Versioned,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := r.repo.Create(ctx, doc, content); err != nil {
		return 0, err
	}
	r.log.Debug("document created", logx.String("doc", doc.ID), logx.String("file", f.Name), logx.String("owner", owner))
	return Created, nil
}

// MimeType guesses the content type of filename from its extension.
func MimeType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func baseName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
