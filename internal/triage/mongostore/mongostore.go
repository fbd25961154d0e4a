// Package mongostore provides a MongoDB implementation of triage.Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

var tracer = otel.Tracer("github.com/linnemanlabs/grievance/internal/triage/mongostore")

// Collection is the collection complaints are stored in.
const Collection = "complaints"

// Store persists complaints in a MongoDB collection.
type Store struct {
	coll *mongo.Collection
}

type document struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	Name              string             `bson:"name"`
	Email             string             `bson:"email"`
	Location          string             `bson:"location"`
	Description       string             `bson:"description"`
	Urgency           string             `bson:"urgency"`
	PredictedCategory string             `bson:"predicted_category"`
	CategoryScores    map[string]float64 `bson:"category_scores"`
	CreatedAt         time.Time          `bson:"created_at"`
	Status            string             `bson:"status"`
}

// New returns a Store over db's complaints collection, creating the
// listing indexes if they do not exist.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{coll: db.Collection(Collection)}
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", Collection),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Insert stores rec and returns the hex ObjectID assigned to it.
func (s *Store) Insert(ctx context.Context, rec *complaint.Record) (string, error) {
	ctx, span := startSpan(ctx, "mongostore.Insert", "insert")
	defer span.End()

	doc := toDocument(rec)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fail(span, fmt.Errorf("insert complaint: %w", err))
	}
	id := doc.ID.Hex()
	span.SetAttributes(attribute.String("grievance.complaint.id", id))
	return id, nil
}

// Get retrieves a complaint by id. Ids that are not valid ObjectIDs are
// reported as not found.
func (s *Store) Get(ctx context.Context, id string) (*complaint.Record, bool, error) {
	ctx, span := startSpan(ctx, "mongostore.Get", "find")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false, nil
	}

	var doc document
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("find complaint: %w", err))
	}
	r, err := doc.record()
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, true, nil
}

// List returns complaints newest first. A zero Limit returns every match.
func (s *Store) List(ctx context.Context, f complaint.ListFilter) ([]*complaint.Record, error) {
	ctx, span := startSpan(ctx, "mongostore.List", "find")
	defer span.End()

	filter := bson.M{}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fail(span, fmt.Errorf("find complaints: %w", err))
	}
	defer cur.Close(ctx)

	out := []*complaint.Record{}
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fail(span, fmt.Errorf("decode complaint: %w", err))
		}
		r, err := doc.record()
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, r)
	}
	if err := cur.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate complaints: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// SetStatus updates a complaint's status and returns the updated document.
func (s *Store) SetStatus(ctx context.Context, id string, st complaint.Status) (*complaint.Record, bool, error) {
	ctx, span := startSpan(ctx, "mongostore.SetStatus", "findAndModify")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false, nil
	}

	var doc document
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"status": string(st)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("update complaint: %w", err))
	}
	r, err := doc.record()
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, true, nil
}

func toDocument(rec *complaint.Record) *document {
	return &document{
		Name:              rec.Name,
		Email:             rec.Email,
		Location:          rec.Location,
		Description:       rec.Description,
		Urgency:           string(rec.Urgency),
		PredictedCategory: rec.PredictedCategory.String(),
		CategoryScores:    rec.CategoryScores.Map(),
		CreatedAt:         rec.CreatedAt,
		Status:            string(rec.Status),
	}
}

func (d *document) record() (*complaint.Record, error) {
	c, err := complaint.ParseCategory(d.PredictedCategory)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID.Hex(), err)
	}
	scores, err := complaint.DistributionFromMap(d.CategoryScores)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID.Hex(), err)
	}
	return &complaint.Record{
		ID:                d.ID.Hex(),
		Name:              d.Name,
		Email:             d.Email,
		Location:          d.Location,
		Description:       d.Description,
		Urgency:           complaint.Urgency(d.Urgency),
		PredictedCategory: c,
		CategoryScores:    scores,
		CreatedAt:         d.CreatedAt.UTC(),
		Status:            complaint.Status(d.Status),
	}, nil
}
