// Package mongostore implements the license store and verification event log on
// MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

const defaultCollectionPrefix = "licensegate"

// eventSequence is the counters document that hands out event ids.
const eventSequence = "verification_events"

// validCollectionPrefix matches safe MongoDB collection names.
var validCollectionPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Option configures a Store.
type Option func(*Store)

// WithCollectionPrefix sets the prefix of the three collections. Default: "licensegate".
func WithCollectionPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// Store keeps licenses, verification events and the event id counter in
// three collections of one database.
type Store struct {
	database *mongo.Database
	// client is set only when the Store dialed it and must disconnect it.
	client   *mongo.Client
	licenses *mongo.Collection
	events   *mongo.Collection
	counters *mongo.Collection
	prefix   string
	logger   zerolog.Logger
}

type licenseDoc struct {
	LicenseKey string `bson:"_id"`
	ClientID   string `bson:"client_id"`
	Status     string `bson:"status"`
	ExpiresAt  string `bson:"expires_at"`
}

type eventDoc struct {
	ID                int64     `bson:"_id"`
	Timestamp         time.Time `bson:"timestamp"`
	LicenseKey        *string   `bson:"license_key"`
	ClientID          *string   `bson:"client_id"`
	WorkflowID        *string   `bson:"workflow_id"`
	ContextIdentifier *string   `bson:"context_identifier"`
	Allowed           bool      `bson:"allowed"`
	Reason            *string   `bson:"reason"`
}

type counterDoc struct {
	Seq int64 `bson:"seq"`
}

// Connect dials uri and opens a Store on the named database. Close
// disconnects the client.
func Connect(ctx context.Context, uri, database string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s, err := NewStore(ctx, client.Database(database), logger, opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	s.logger.Info().Str("database", database).Msg("mongo license store initialized")
	return s, nil
}

// NewStore opens a Store on db and creates its indexes. The caller owns the
// client lifecycle.
func NewStore(ctx context.Context, db *mongo.Database, logger zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		prefix: defaultCollectionPrefix,
		logger: logger.With().Str("component", "mongo_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validCollectionPrefix.MatchString(s.prefix) {
		return nil, fmt.Errorf("invalid collection prefix %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.prefix)
	}

	s.database = db
	durable := options.Collection().SetWriteConcern(writeconcern.Majority())
	s.licenses = db.Collection(s.prefix+"_licenses", durable)
	s.events = db.Collection(s.prefix+"_verification_events", durable)
	s.counters = db.Collection(s.prefix+"_counters", durable)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.licenses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "license_key", Value: 1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "_id", Value: -1}}},
	})
	return err
}

// Driver names the backend for health and version output.
func (s *Store) Driver() string {
	return "mongo"
}

// Ping verifies the primary is reachable through the database's client,
// whether or not the Store owns it.
func (s *Store) Ping(ctx context.Context) error {
	return s.database.Client().Ping(ctx, readpref.Primary())
}

// Health returns basic backend information.
func (s *Store) Health() map[string]any {
	return map[string]any{
		"driver":            s.Driver(),
		"database":          s.database.Name(),
		"collection_prefix": s.prefix,
		"owns_client":       s.client != nil,
	}
}

// Close disconnects a client created by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// GetLicense returns the license for key, or nil when none exists.
func (s *Store) GetLicense(ctx context.Context, licenseKey string) (*models.License, error) {
	var doc licenseDoc
	err := s.licenses.FindOne(ctx, bson.M{"_id": licenseKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return doc.toModel(), nil
}

// ListLicenses returns every license ordered by client then key.
func (s *Store) ListLicenses(ctx context.Context) ([]*models.License, error) {
	opts := options.Find().SetSort(bson.D{{Key: "client_id", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.licenses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	var docs []licenseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}
	licenses := make([]*models.License, 0, len(docs))
	for i := range docs {
		licenses = append(licenses, docs[i].toModel())
	}
	return licenses, nil
}

// SetLicenseStatus changes the status of an existing license.
func (s *Store) SetLicenseStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set license status: %w: %q", models.ErrInvalidStatus, status)
	}
	res, err := s.licenses.UpdateOne(ctx,
		bson.M{"_id": licenseKey},
		bson.M{"$set": bson.M{"status": string(status)}},
	)
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrLicenseNotFound
	}
	return nil
}

// EnsureLicense inserts l unless its key already exists. It reports whether a
// document was created.
func (s *Store) EnsureLicense(ctx context.Context, l *models.License) (bool, error) {
	res, err := s.licenses.UpdateOne(ctx,
		bson.M{"_id": l.LicenseKey},
		bson.M{"$setOnInsert": bson.M{
			"client_id":  l.ClientID,
			"status":     string(l.Status),
			"expires_at": l.ExpiresAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("ensure license: %w", err)
	}
	return res.UpsertedCount == 1, nil
}

// AppendVerificationEvent assigns the next sequence id and inserts e.
func (s *Store) AppendVerificationEvent(ctx context.Context, e *models.VerificationEvent) (int64, error) {
	id, err := s.nextEventID(ctx)
	if err != nil {
		return 0, fmt.Errorf("append verification event: %w", err)
	}

	doc := eventDoc{
		ID:                id,
		Timestamp:         e.Timestamp.UTC(),
		LicenseKey:        e.LicenseKey,
		ClientID:          e.ClientID,
		WorkflowID:        e.WorkflowID,
		ContextIdentifier: e.ContextIdentifier,
		Allowed:           e.Allowed,
		Reason:            e.Reason,
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("append verification event: %w", err)
	}
	return id, nil
}

func (s *Store) nextEventID(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": eventSequence},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	return counter.Seq, nil
}

// ListRecentVerificationEvents returns events matching filter, newest first.
func (s *Store) ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := s.events.Find(ctx, eventQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list verification events: %w", err)
	}
	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode verification events: %w", err)
	}

	events := make([]*models.VerificationEvent, 0, len(docs))
	for i := range docs {
		events = append(events, docs[i].toModel())
	}
	return events, nil
}

// CountVerificationEvents returns the number of events matching filter.
func (s *Store) CountVerificationEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	count, err := s.events.CountDocuments(ctx, eventQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("count verification events: %w", err)
	}
	return count, nil
}

func eventQuery(filter models.EventFilter) bson.M {
	q := bson.M{}
	if filter.LicenseKey != "" {
		q["license_key"] = filter.LicenseKey
	}
	if filter.ClientID != "" {
		q["client_id"] = filter.ClientID
	}
	if filter.Allowed != nil {
		q["allowed"] = *filter.Allowed
	}
	return q
}

func (d *licenseDoc) toModel() *models.License {
	return &models.License{
		LicenseKey: d.LicenseKey,
		ClientID:   d.ClientID,
		Status:     models.LicenseStatus(d.Status),
		ExpiresAt:  d.ExpiresAt,
	}
}

func (d *eventDoc) toModel() *models.VerificationEvent {
	return &models.VerificationEvent{
		ID:                d.ID,
		Timestamp:         d.Timestamp.UTC(),
		LicenseKey:        d.LicenseKey,
		ClientID:          d.ClientID,
		WorkflowID:        d.WorkflowID,
		ContextIdentifier: d.ContextIdentifier,
		Allowed:           d.Allowed,
		Reason:            d.Reason,
	}
}
