package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

type ToFirestoreFunc[T any] func(*T) map[string]interface{}
type FromFirestoreFunc[T any] func(id string, m map[string]interface{}) *T

type Collection[T any] struct {
	Ref           *firestore.CollectionRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (c *Collection[T]) Doc(id string) *DocumentRef[T] {
	return &DocumentRef[T]{
		Ref:           c.Ref.Doc(id),
		ToFirestore:   c.ToFirestore,
		FromFirestore: c.FromFirestore,
	}
}

func (c *Collection[T]) NewDoc() *DocumentRef[T] {
	return &DocumentRef[T]{
		Ref:           c.Ref.NewDoc(),
		ToFirestore:   c.ToFirestore,
		FromFirestore: c.FromFirestore,
	}
}

// All runs q and converts every returned document.
func (c *Collection[T]) All(ctx context.Context, q firestore.Query) ([]*T, error) {
	return Documents(ctx, q, c.FromFirestore)
}

// Documents iterates a query, converting each snapshot.
func Documents[T any](ctx context.Context, q firestore.Query, from FromFirestoreFunc[T]) ([]*T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, from(snap.Ref.ID, snap.Data()))
	}
	return out, nil
}

// Count runs a server-side count aggregation.
func Count(ctx context.Context, q firestore.Query) (int64, error) {
	res, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, err
	}
	return aggregationInt(res["count"]), nil
}

type DocumentRef[T any] struct {
	Ref           *firestore.DocumentRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (d *DocumentRef[T]) ID() string {
	return d.Ref.ID
}

func (d *DocumentRef[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.Ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d.FromFirestore(snap.Ref.ID, snap.Data()), nil
}

func (d *DocumentRef[T]) Set(ctx context.Context, data *T) error {
	m := d.ToFirestore(data)
	_, err := d.Ref.Set(ctx, m, firestore.MergeAll)
	return err
}

// Create writes the document only if it does not exist yet.
// It reports false when the document was already there.
func (d *DocumentRef[T]) Create(ctx context.Context, data *T) (bool, error) {
	_, err := d.Ref.Create(ctx, d.ToFirestore(data))
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DocumentRef[T]) Update(ctx context.Context, updates map[string]interface{}) error {
	// Simple map update - keys must match Firestore snake_case fields
	// We do not run converter here because updates are often partials
	_, err := d.Ref.Set(ctx, updates, firestore.MergeAll)
	return err
}

// UpdatePaths applies field-path updates and fails if the document is gone.
func (d *DocumentRef[T]) UpdatePaths(ctx context.Context, updates []firestore.Update) error {
	_, err := d.Ref.Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (d *DocumentRef[T]) Delete(ctx context.Context) error {
	_, err := d.Ref.Delete(ctx)
	return err
}
