package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"task-api/domain"
)

const (
	tasksPartition     = "tasks"
	maxConflictRetries = 5
	edmDateTime        = "Edm.DateTime"
)

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables stores tasks in an Azure Storage table, one partition for all
// tasks, keyed by ObjectID hex so row order matches insertion order.
type Tables struct {
	table tableClient
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tableName string) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tableName)}, nil
}

type taskEntity struct {
	PartitionKey  string    `json:"PartitionKey"`
	RowKey        string    `json:"RowKey"`
	Title         string    `json:"Title"`
	Description   string    `json:"Description,omitempty"`
	Status        string    `json:"Status"`
	DueDate       time.Time `json:"DueDate"`
	DueDateType   string    `json:"DueDate@odata.type,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

func toEntity(t domain.Task) taskEntity {
	return taskEntity{
		PartitionKey:  tasksPartition,
		RowKey:        t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		DueDate:       t.DueDate.UTC(),
		DueDateType:   edmDateTime,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmDateTime,
		UpdatedAt:     t.UpdatedAt,
		UpdatedAtType: edmDateTime,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		DueDate:     ent.DueDate.UTC(),
		CreatedAt:   ent.CreatedAt.UTC(),
		UpdatedAt:   ent.UpdatedAt.UTC(),
	}, nil
}

func (s *Tables) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	t.ID = newID().Hex()
	t.CreatedAt = nextTimestamp()
	t.UpdatedAt = t.CreatedAt
	payload, err := json.Marshal(toEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		if responseStatus(err) == http.StatusConflict {
			return domain.Task{}, domain.Duplicate("id", t.ID, err)
		}
		return domain.Task{}, fmt.Errorf("add task: %w", err)
	}
	return t, nil
}

func (s *Tables) Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
	filter := listEntitiesFilter(q)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	domain.SortTasks(tasks, q.Sort)
	return tasks, nil
}

func (s *Tables) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	t, _, err := s.get(ctx, id)
	return t, err
}

// FindByIDAndUpdate merges the patch into the stored row and replaces it
// under the row's ETag, re-reading and retrying when another writer won.
func (s *Tables) FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		cur, etag, err := s.get(ctx, id)
		if err != nil || cur == nil {
			return nil, err
		}
		patch.Apply(cur)
		if err := cur.Validate(); err != nil {
			return nil, err
		}
		cur.UpdatedAt = nextTimestamp()
		payload, err := json.Marshal(toEntity(*cur))
		if err != nil {
			return nil, err
		}
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch status := responseStatus(err); {
		case err == nil:
			return cur, nil
		case status == http.StatusNotFound:
			return nil, nil
		case status == http.StatusPreconditionFailed && attempt < maxConflictRetries:
			continue
		default:
			return nil, fmt.Errorf("update task: %w", err)
		}
	}
}

func (s *Tables) FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		cur, etag, err := s.get(ctx, id)
		if err != nil || cur == nil {
			return nil, err
		}
		_, err = s.table.DeleteEntity(ctx, tasksPartition, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
		switch status := responseStatus(err); {
		case err == nil:
			return cur, nil
		case status == http.StatusNotFound:
			return nil, nil
		case status == http.StatusPreconditionFailed && attempt < maxConflictRetries:
			continue
		default:
			return nil, fmt.Errorf("delete task: %w", err)
		}
	}
}

func (s *Tables) get(ctx context.Context, id string) (*domain.Task, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		if responseStatus(err) == http.StatusNotFound {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("get task: %w", err)
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return &t, resp.ETag, nil
}

func listEntitiesFilter(q domain.ListQuery) string {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	if q.Status != "" {
		filter += " and Status eq '" + strings.ReplaceAll(string(q.Status), "'", "''") + "'"
	}
	return filter
}

func responseStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
