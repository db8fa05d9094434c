package document

import (
	"context"

	"github.com/samber/mo"

	"calsched/internal/workqueue"
)

// source returns the first document of the contribution whose base name
// equals filename's and whose format is a supported converter input.
func (r *Reconciler) source(ctx context.Context, it workqueue.Item, filename string) (mo.Option[Document], error) {
	docs, err := r.repo.ListByContribution(ctx, it.ComponentID, it.ContributionID)
	if err != nil {
		return mo.None[Document](), err
	}
	want := baseName(filename)
	for _, d := range docs {
		if r.Supported(d.Filename) && baseName(d.Filename) == want {
			return mo.Some(d), nil
		}
	}
	return mo.None[Document](), nil
}
