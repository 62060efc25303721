package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"task-api/domain"
)

// Backend is the persistence contract every store implements. A nil task with
// a nil error means the addressed task does not exist.
type Backend interface {
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error)
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error)
}

// Pinger is implemented by backends able to report their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidID reports whether id is a well-formed task identifier.
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func newID() primitive.ObjectID {
	return primitive.NewObjectID()
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, domain.InvalidID("id", id)
	}
	return oid, nil
}

func ping(ctx context.Context, b Backend) error {
	if p, ok := b.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
