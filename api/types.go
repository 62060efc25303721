package api

import (
	"context"
	"time"

	"task-api/domain"
)

// Store abstracts persistence for handlers. A nil task with a nil error
// means the addressed task does not exist.
type Store interface {
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error)
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error)
}

// Pinger is implemented by stores able to report their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes Register.
type Options struct {
	// StoreTimeout bounds every store call. Zero means DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// DefaultStoreTimeout is used when Options.StoreTimeout is unset.
const DefaultStoreTimeout = 5 * time.Second

type taskResponse struct {
	Success bool        `json:"success"`
	Data    domain.Task `json:"data"`
}

type tasksResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Data    []domain.Task `json:"data"`
}

type deletedResponse struct {
	Success bool     `json:"success"`
	Data    struct{} `json:"data"`
}

type healthResponse struct {
	Success bool `json:"success"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}
