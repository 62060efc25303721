package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"task-api/domain"
)

// Change event types published after successful writes.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// ChangeEvent describes one committed write.
type ChangeEvent struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	TaskID string      `json:"taskId"`
	Time   time.Time   `json:"time"`
	Task   domain.Task `json:"task"`
}

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Notifier wraps a Backend and publishes a ChangeEvent to a queue after every
// successful write. Publishing is best effort: failures are logged and never
// fail the write, which has already been committed.
type Notifier struct {
	base  Backend
	queue messageQueue
	log   *log.Logger
}

// NewQueue opens the change-feed queue client.
func NewQueue(connStr, queueName string) (*azqueue.QueueClient, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
}

// NewNotifier wraps base so writes are announced on queue.
func NewNotifier(base Backend, queue messageQueue, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{base: base, queue: queue, log: logger}
}

func (n *Notifier) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := n.base.Create(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	n.publish(ctx, TaskCreated, created)
	return created, nil
}

func (n *Notifier) Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
	return n.base.Find(ctx, q)
}

func (n *Notifier) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	return n.base.FindByID(ctx, id)
}

func (n *Notifier) FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	updated, err := n.base.FindByIDAndUpdate(ctx, id, patch)
	if err == nil && updated != nil {
		n.publish(ctx, TaskUpdated, *updated)
	}
	return updated, err
}

func (n *Notifier) FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error) {
	deleted, err := n.base.FindByIDAndDelete(ctx, id)
	if err == nil && deleted != nil {
		n.publish(ctx, TaskDeleted, *deleted)
	}
	return deleted, err
}

func (n *Notifier) Ping(ctx context.Context) error {
	return ping(ctx, n.base)
}

func (n *Notifier) publish(ctx context.Context, typ string, t domain.Task) {
	ev := ChangeEvent{
		ID:     uuid.NewString(),
		Type:   typ,
		TaskID: t.ID,
		Time:   t.UpdatedAt,
		Task:   t,
	}
	data, err := sonic.Marshal(ev)
	if err == nil {
		_, err = n.queue.EnqueueMessage(context.WithoutCancel(ctx), string(data), nil)
	}
	if err != nil {
		n.log.WithFields(log.Fields{"task": t.ID, "type": typ}).WithError(err).Warn("publish change event failed")
	}
}
