package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"task-api/domain"
)

// Mongo stores tasks as documents in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and verifies the deployment is reachable.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second).
		SetRetryWrites(true)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Mongo{client: client, coll: client.Database(database).Collection(collection)}, nil
}

type taskDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	Title       string             `bson:"title"`
	Description string             `bson:"description,omitempty"`
	Status      string             `bson:"status"`
	DueDate     time.Time          `bson:"dueDate"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func toDocument(t domain.Task, id primitive.ObjectID) taskDocument {
	return taskDocument{
		ID:          id,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		DueDate:     t.DueDate.UTC(),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (d taskDocument) task() domain.Task {
	return domain.Task{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Status:      domain.Status(d.Status),
		DueDate:     d.DueDate.UTC(),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func (m *Mongo) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = nextTimestamp()
	t.UpdatedAt = t.CreatedAt
	doc := toDocument(t, newID())
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return domain.Task{}, mongoWriteError("insert task", err)
	}
	return doc.task(), nil
}

func (m *Mongo) Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
	cur, err := m.coll.Find(ctx, listFilter(q), options.Find().SetSort(sortDocument(q.Sort)))
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, d.task())
	}
	return tasks, nil
}

func (m *Mongo) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var doc taskDocument
	err = m.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	return documentResult(doc, err, "find task")
}

func (m *Mongo) FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc taskDocument
	err = m.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": updateDocument(patch, nextTimestamp())}, opts).Decode(&doc)
	return documentResult(doc, err, "update task")
}

func (m *Mongo) FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var doc taskDocument
	err = m.coll.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&doc)
	return documentResult(doc, err, "delete task")
}

// Ping checks the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes used to filter and sort listings.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	models := make([]mongo.IndexModel, 0, 4)
	for _, key := range []string{"status", string(domain.SortCreatedAt), string(domain.SortDueDate), string(domain.SortTitle)} {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}})
	}
	if _, err := m.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func documentResult(doc taskDocument, err error, op string) (*domain.Task, error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mongoWriteError(op, err)
	}
	t := doc.task()
	return &t, nil
}

func listFilter(q domain.ListQuery) bson.M {
	if q.Status == "" {
		return bson.M{}
	}
	return bson.M{"status": string(q.Status)}
}

// sortDocument always ends with _id so listings without a sort come back in
// insertion order and ties keep it.
func sortDocument(s domain.Sort) bson.D {
	d := bson.D{}
	if !s.IsZero() {
		dir := 1
		if s.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: string(s.Field), Value: dir})
	}
	return append(d, bson.E{Key: "_id", Value: 1})
}

func updateDocument(p domain.TaskPatch, now time.Time) bson.M {
	var t domain.Task
	p.Apply(&t)
	set := bson.M{"updatedAt": now}
	if p.Title != nil {
		set["title"] = t.Title
	}
	if p.Description != nil {
		set["description"] = t.Description
	}
	if p.Status != nil {
		set["status"] = string(t.Status)
	}
	if p.DueDate != nil {
		set["dueDate"] = t.DueDate.UTC()
	}
	return set
}

// mongoWriteError tags duplicate key errors and wraps everything else.
func mongoWriteError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		field, value := duplicateKey(err)
		return domain.Duplicate(field, value, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// duplicateKey extracts the colliding field and value from the keyValue
// document the server attaches to E11000 errors.
func duplicateKey(err error) (string, string) {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code != 11000 || e.Raw == nil {
				continue
			}
			kv, ok := e.Raw.Lookup("keyValue").DocumentOK()
			if !ok {
				continue
			}
			elems, err := kv.Elements()
			if err != nil || len(elems) == 0 {
				continue
			}
			val := elems[0].Value()
			if s, ok := val.StringValueOK(); ok {
				return elems[0].Key(), s
			}
			return elems[0].Key(), val.String()
		}
	}
	return "", "duplicate value"
}
