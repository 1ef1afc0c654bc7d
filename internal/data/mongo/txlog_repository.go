package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

const (
	// TxLogCollectionName is the name of the transaction log collection
	TxLogCollectionName = "transaction_log"
	// CountersCollectionName holds the global sequence counter document
	CountersCollectionName = "counters"

	sequenceCounterID = "txlog_sequence"
)

// TxLogRepository implements the txlog.Repository interface for MongoDB.
// The sequence counter document is the single ordering point shared by all
// projects; its increment is atomic so entries are totally ordered.
type TxLogRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewTxLogRepository creates a new MongoDB transaction log repository
func NewTxLogRepository(logger *slog.Logger, db *mongo.Database) *TxLogRepository {
	return &TxLogRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the collection indexes the repository relies on.
// The unique (idempotency_key, kind) index is what actually enforces
// append dedupe under concurrent writers; the FindOne pre-check in Append
// is only a fast path.
func (r *TxLogRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(TxLogCollectionName)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().
				SetName("uniq_idempotency_key_kind").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
		},
		{
			Keys:    bson.D{{Key: "sequence", Value: 1}},
			Options: options.Index().SetName("uniq_sequence").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetName("project_sequence"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		r.logger.Error("Failed to create transaction log indexes", "error", err)
		return fmt.Errorf("failed to create transaction log indexes: %w", err)
	}
	return nil
}

// Append assigns the next global sequence number and inserts the entry.
// If an entry with the same idempotency key and kind already exists the
// append is refused with ErrDuplicateEntry, keeping the history free of
// duplicate effects on reconciliation retries.
func (r *TxLogRepository) Append(ctx context.Context, entry *txlog.Entry) error {
	collection := r.db.Collection(TxLogCollectionName)

	if entry.IdempotencyKey != "" {
		filter := bson.M{"idempotency_key": entry.IdempotencyKey, "kind": entry.Kind}
		var existing txlog.Entry
		err := collection.FindOne(ctx, filter).Decode(&existing)
		if err == nil {
			return txlog.ErrDuplicateEntry{IdempotencyKey: entry.IdempotencyKey}
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Error("Failed to check for existing log entry",
				"idempotency_key", entry.IdempotencyKey,
				"error", err)
			return fmt.Errorf("failed to check for existing log entry: %w", err)
		}
	}

	sequence, err := r.nextSequence(ctx)
	if err != nil {
		return err
	}
	entry.Sequence = sequence

	if _, err := collection.InsertOne(ctx, entry); err != nil {
		if isDup := mongo.IsDuplicateKeyError(err); !isDup {
			r.logger.Error("Failed to append log entry",
				"sequence", entry.Sequence,
				"project_id", entry.ProjectID.String(),
				"error", err)
		}
		return mapAppendError(err, entry.IdempotencyKey)
	}

	return nil
}

// mapAppendError converts an insert failure into a domain error. A concurrent
// writer can slip past the FindOne pre-check in Append; the unique
// (idempotency_key, kind) index turns that race into a duplicate-key error,
// which callers treat the same as the pre-check refusal.
func mapAppendError(err error, idempotencyKey string) error {
	if mongo.IsDuplicateKeyError(err) {
		return txlog.ErrDuplicateEntry{IdempotencyKey: idempotencyKey}
	}
	return fmt.Errorf("failed to append log entry: %w", err)
}

// nextSequence atomically increments and returns the global sequence counter
func (r *TxLogRepository) nextSequence(ctx context.Context) (int64, error) {
	counters := r.db.Collection(CountersCollectionName)

	filter := bson.M{"_id": sequenceCounterID}
	update := bson.M{"$inc": bson.M{"value": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Value int64 `bson:"value"`
	}
	if err := counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter); err != nil {
		r.logger.Error("Failed to allocate log sequence number", "error", err)
		return 0, fmt.Errorf("failed to allocate log sequence number: %w", err)
	}

	return counter.Value, nil
}

// GetBySequence retrieves a log entry by its sequence number.
// Returns ErrEntryNotFound if no entry exists.
func (r *TxLogRepository) GetBySequence(ctx context.Context, sequence int64) (*txlog.Entry, error) {
	collection := r.db.Collection(TxLogCollectionName)

	filter := bson.M{"sequence": sequence}
	var entry txlog.Entry
	err := collection.FindOne(ctx, filter).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, txlog.ErrEntryNotFound{Sequence: sequence}
		}
		r.logger.Error("Failed to get log entry", "sequence", sequence, "error", err)
		return nil, fmt.Errorf("failed to get log entry: %w", err)
	}

	return &entry, nil
}

// GetByIdempotencyKey retrieves the most recent entry recorded under an
// idempotency key. Returns nil if no entry exists, enabling idempotent
// intake pre-checks.
func (r *TxLogRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*txlog.Entry, error) {
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	collection := r.db.Collection(TxLogCollectionName)

	filter := bson.M{"idempotency_key": idempotencyKey}
	opts := options.FindOne().SetSort(bson.M{"sequence": -1})
	var entry txlog.Entry
	err := collection.FindOne(ctx, filter, opts).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // No entry recorded under this idempotency key
		}
		r.logger.Error("Failed to get log entry by idempotency key",
			"idempotency_key", idempotencyKey,
			"error", err)
		return nil, fmt.Errorf("failed to get log entry by idempotency key: %w", err)
	}

	return &entry, nil
}

// GetByProjectID retrieves paginated log entries for a project, newest
// first, for history views.
func (r *TxLogRepository) GetByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*txlog.Entry, error) {
	collection := r.db.Collection(TxLogCollectionName)

	filter := bson.M{"project_id": projectID}
	opts := options.Find().
		SetSort(bson.M{"sequence": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get log entries",
			"project_id", projectID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get log entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*txlog.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode log entries",
			"project_id", projectID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode log entries: %w", err)
	}

	return entries, nil
}

// CountByProjectID counts the log entries for a project
func (r *TxLogRepository) CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error) {
	collection := r.db.Collection(TxLogCollectionName)

	filter := bson.M{"project_id": projectID}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count log entries",
			"project_id", projectID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	return count, nil
}

// Replay returns a cursor over a project's entries in ascending sequence
// order for state reconstruction.
func (r *TxLogRepository) Replay(ctx context.Context, projectID uuid.UUID) (txlog.Cursor, error) {
	collection := r.db.Collection(TxLogCollectionName)

	filter := bson.M{"project_id": projectID}
	opts := options.Find().SetSort(bson.M{"sequence": 1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to open replay cursor",
			"project_id", projectID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to open replay cursor: %w", err)
	}

	return &replayCursor{cursor: cursor}, nil
}

type replayCursor struct {
	cursor *mongo.Cursor
}

func (c *replayCursor) Next(ctx context.Context) (*txlog.Entry, error) {
	if !c.cursor.Next(ctx) {
		if err := c.cursor.Err(); err != nil {
			return nil, fmt.Errorf("replay cursor: %w", err)
		}
		return nil, nil // Exhausted
	}

	var entry txlog.Entry
	if err := c.cursor.Decode(&entry); err != nil {
		return nil, fmt.Errorf("replay cursor decode: %w", err)
	}
	return &entry, nil
}

func (c *replayCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
