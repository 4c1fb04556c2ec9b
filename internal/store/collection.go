package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

const (
	DefaultMaxPageSize = 100

	tracerName = "github.com/LeventeLantos/message-dispatch/internal/store"
)

type settings struct {
	maxPage int
	tracer  trace.Tracer
}

type Option func(*settings)

// WithMaxPageSize caps the number of records one Find returns.
func WithMaxPageSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxPage = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Collection stores records of one type in one collection. It holds no
// locks; concurrent use relies on the driver.
type Collection[T any, PT record.Pointer[T]] struct {
	name   string
	desc   record.Descriptor
	driver Driver
	settings
}

// Open binds a registered collection of db to the record type T.
func Open[T any, PT record.Pointer[T]](db *Database, reg *record.Registry, name string, opts ...Option) (*Collection[T, PT], error) {
	return New[T, PT](db.Collection(name), reg, name, opts...)
}

// New binds a registered collection served by driver to the record type T.
// The collection must be declared for T in reg.
func New[T any, PT record.Pointer[T]](driver Driver, reg *record.Registry, name string, opts ...Option) (*Collection[T, PT], error) {
	desc, err := reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	if want := PT(new(T)).Descriptor().Type; want != desc.Type {
		return nil, fmt.Errorf("%w: collection %q holds %s, not %s", record.ErrConfiguration, name, desc.Type, want)
	}

	s := settings{maxPage: DefaultMaxPageSize, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(&s)
	}

	return &Collection[T, PT]{name: name, desc: desc, driver: driver, settings: s}, nil
}

func (c *Collection[T, PT]) Name() string { return c.name }

func (c *Collection[T, PT]) Descriptor() record.Descriptor { return c.desc }

// Create inserts rec and sets its identifier to the stored one.
func (c *Collection[T, PT]) Create(ctx context.Context, rec PT) (id string, err error) {
	ctx, span := c.start(ctx, "create")
	defer func() { end(span, err) }()

	doc, err := record.Encode(rec)
	if err != nil {
		return "", err
	}

	res, err := c.driver.InsertOne(ctx, doc)
	if err != nil {
		return "", c.persistence("create", err)
	}

	id = idString(res.InsertedID)
	rec.SetID(id)
	return id, nil
}

// FindOne returns the first record matching q, or false when none does.
func (c *Collection[T, PT]) FindOne(ctx context.Context, q Query) (rec PT, found bool, err error) {
	ctx, span := c.start(ctx, "find_one")
	defer func() { end(span, err) }()

	filter, err := q.filter(c.desc)
	if err != nil {
		return nil, false, err
	}

	var doc bson.M
	if err = c.driver.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, c.persistence("find_one", err)
	}

	rec, err = record.Decode[T, PT](doc, c.desc)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Find yields up to limit records matching q in identifier order. A limit
// outside (0, max page size] is clamped to the max page size. Each range over
// the sequence runs a new query.
func (c *Collection[T, PT]) Find(ctx context.Context, q Query, limit int) iter.Seq2[PT, error] {
	return c.Paginate(ctx, q, 0, limit)
}

// Paginate is Find starting after the first skip matching records.
func (c *Collection[T, PT]) Paginate(ctx context.Context, q Query, skip, limit int) iter.Seq2[PT, error] {
	return func(yield func(PT, error) bool) {
		ctx, span := c.start(ctx, "find")
		var err error
		defer func() { end(span, err) }()

		filter, ferr := q.filter(c.desc)
		if ferr != nil {
			err = ferr
			yield(nil, err)
			return
		}

		n := limit
		if n <= 0 || n > c.maxPage {
			n = c.maxPage
		}
		opts := options.Find().
			SetSort(bson.D{{Key: record.IDField, Value: 1}}).
			SetLimit(int64(n))
		if skip > 0 {
			opts.SetSkip(int64(skip))
		}
		span.SetAttributes(attribute.Int("db.limit", n), attribute.Int("db.skip", skip))

		cur, cerr := c.driver.Find(ctx, filter, opts)
		if cerr != nil {
			err = c.persistence("find", cerr)
			yield(nil, err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc bson.M
			if derr := cur.Decode(&doc); derr != nil {
				err = c.persistence("find", derr)
				yield(nil, err)
				return
			}
			rec, derr := record.Decode[T, PT](doc, c.desc)
			if derr != nil {
				err = derr
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if cerr := cur.Err(); cerr != nil {
			err = c.persistence("find", cerr)
			yield(nil, err)
		}
	}
}

// Update applies u to the first record matching q and returns its
// identifier, or false when nothing matched. Matching and writing happen in
// one server-side operation.
func (c *Collection[T, PT]) Update(ctx context.Context, q Query, u Update) (id string, found bool, err error) {
	ctx, span := c.start(ctx, "update")
	defer func() { end(span, err) }()

	filter, err := q.filter(c.desc)
	if err != nil {
		return "", false, err
	}
	doc, err := u.document(c.desc)
	if err != nil {
		return "", false, err
	}

	opts := options.FindOneAndUpdate().
		SetProjection(bson.M{record.IDField: 1}).
		SetReturnDocument(options.After)
	return c.findAndModify(ctx, "update", filter, doc, opts)
}

// Upsert sets vals on the first record matching q, inserting one built from
// q and vals when none matches. It returns the identifier either way.
func (c *Collection[T, PT]) Upsert(ctx context.Context, q Query, vals record.Values) (id string, err error) {
	ctx, span := c.start(ctx, "upsert")
	defer func() { end(span, err) }()

	filter, err := q.filter(c.desc)
	if err != nil {
		return "", err
	}
	doc, err := Set(vals).document(c.desc)
	if err != nil {
		return "", err
	}

	opts := options.FindOneAndUpdate().
		SetProjection(bson.M{record.IDField: 1}).
		SetReturnDocument(options.After).
		SetUpsert(true)
	id, _, err = c.findAndModify(ctx, "upsert", filter, doc, opts)
	return id, err
}

func (c *Collection[T, PT]) findAndModify(ctx context.Context, op string, filter bson.M, update any, opts *options.FindOneAndUpdateOptionsBuilder) (string, bool, error) {
	var doc bson.M
	if err := c.driver.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, c.persistence(op, err)
	}
	return idString(doc[record.IDField]), true, nil
}

// Delete removes the first record matching q and reports how many were
// removed (0 or 1).
func (c *Collection[T, PT]) Delete(ctx context.Context, q Query) (n int64, err error) {
	ctx, span := c.start(ctx, "delete")
	defer func() { end(span, err) }()

	filter, err := q.filter(c.desc)
	if err != nil {
		return 0, err
	}

	res, err := c.driver.DeleteOne(ctx, filter)
	if err != nil {
		return 0, c.persistence("delete", err)
	}
	return res.DeletedCount, nil
}

func (c *Collection[T, PT]) Exists(ctx context.Context, q Query) (ok bool, err error) {
	ctx, span := c.start(ctx, "exists")
	defer func() { end(span, err) }()

	filter, err := q.filter(c.desc)
	if err != nil {
		return false, err
	}

	n, err := c.driver.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, c.persistence("exists", err)
	}
	return n > 0, nil
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T, PT]) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.collection", c.name),
		),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Collection[T, PT]) persistence(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("store: %s %s: %w: %w: %w", op, c.name, ErrPersistence, ErrDuplicate, err)
	}
	return fmt.Errorf("store: %s %s: %w: %w", op, c.name, ErrPersistence, err)
}

func idString(id any) string {
	switch v := id.(type) {
	case bson.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
