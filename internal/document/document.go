// Package document keeps the records of files attached to contributions and
// reconciles files produced by external converters with them.
package document

import (
	"context"
	"errors"
	"time"

	"github.com/samber/mo"
)

var ErrNotFound = errors.New("document not found")

// Type classifies a document within its contribution.
type Type string

const (
	TypeAttachment Type = "attachment"
	TypeForm       Type = "form"
	TypeImage      Type = "image"
	TypeVideo      Type = "video"
)

// DefaultOwner owns documents whose creator cannot be inferred.
const DefaultOwner = "0"

type Document struct {
	ID             string
	ComponentID    string
	ContributionID string
	Filename       string
	Size           int64
	MimeType       string
	Type           Type
	OwnerID        string
	Versioned      bool
	Public         bool
	// Locked is set while a user holds the document for editing.
	Locked bool
	// Private marks the latest version as a private (work) version.
	Private   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UnlockOptions struct {
	Upload         bool
	PrivateVersion bool
}

type Repository interface {
	FindByName(ctx context.Context, componentID, contributionID, filename string) (mo.Option[Document], error)
	ListByContribution(ctx context.Context, componentID, contributionID string) ([]Document, error)
	Create(ctx context.Context, d Document, content []byte) (Document, error)
	UpdateContent(ctx context.Context, id string, content []byte, mimeType string) (Document, error)
	Unlock(ctx context.Context, id string, opt UnlockOptions) error
}
