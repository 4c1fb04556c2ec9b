// Package store persists records in MongoDB collections.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/LeventeLantos/message-dispatch/internal/model"
)

var (
	// ErrPersistence wraps every failure reported by the database.
	ErrPersistence = errors.New("persistence error")
	ErrPing        = errors.New("mongo ping failed")
	// ErrDuplicate marks a write rejected by a unique index. It is wrapped
	// together with ErrPersistence.
	ErrDuplicate = errors.New("duplicate key")
)

// Driver is the part of *mongo.Collection a Collection uses.
type Driver interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
}

var _ Driver = (*mongo.Collection)(nil)

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Database owns the client connection. It is created once in main and
// passed to whatever opens collections.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w: %w", ErrPersistence, err)
	}

	d := &Database{client: client, db: client.Database(cfg.Database)}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := d.Ping(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return d, nil
}

func (d *Database) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrPing, err)
	}
	return nil
}

func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

func (d *Database) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// EnsureIndexes creates the indexes the dispatch queries rely on.
func (d *Database) EnsureIndexes(ctx context.Context) error {
	for name, models := range indexes() {
		if _, err := d.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("store: create %s indexes: %w: %w", name, ErrPersistence, err)
		}
	}
	return nil
}

func indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		model.MessageCollection: {
			// Retry sweep: error records below the attempt ceiling.
			{Keys: bson.D{
				{Key: model.MsgStatus, Value: 1},
				{Key: model.MsgAttempts, Value: 1},
			}},
			{Keys: bson.D{{Key: model.FieldCompanyID, Value: 1}}},
		},
		model.LogCollection: {
			{Keys: bson.D{{Key: model.LogTime, Value: -1}}},
		},
		model.CompanyCollection: {
			{
				Keys: bson.D{{Key: model.CompanyCNPJ, Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{model.CompanyCNPJ: bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: model.CompanyAuthHash, Value: 1}}},
		},
		model.GatewayConfigCollection: {
			{
				Keys:    bson.D{{Key: model.FieldCompanyID, Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		model.ReportCollection: {
			{
				Keys:    bson.D{{Key: model.FieldCompanyID, Value: 1}, {Key: model.ReportMonth, Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
