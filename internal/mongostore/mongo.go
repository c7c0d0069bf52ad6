// Package mongostore implements the license and update-pointer stores on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/updates"
)

const (
	licensesCollection = "licenses"
	updatesCollection  = "update_pointers"
	countersCollection = "counters"
)

type licenseDoc struct {
	ID        string     `bson:"_id"`
	KeyHash   string     `bson:"key_hash"`
	Label     string     `bson:"label"`
	HWID      *string    `bson:"hwid"`
	Active    bool       `bson:"active"`
	LastSeen  *time.Time `bson:"last_seen"`
	BoundAt   *time.Time `bson:"bound_at"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

func (d *licenseDoc) toLicense() (*license.License, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse license id: %w", err)
	}
	return &license.License{
		ID:        id,
		KeyHash:   d.KeyHash,
		Label:     d.Label,
		HWID:      d.HWID,
		Active:    d.Active,
		LastSeen:  d.LastSeen,
		BoundAt:   d.BoundAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

type pointerDoc struct {
	ID        int64     `bson:"_id"`
	Version   string    `bson:"version"`
	URL       string    `bson:"url"`
	SHA256    string    `bson:"sha256"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store implements license.Store and updates.Store using MongoDB.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	licenses *mongo.Collection
	updates  *mongo.Collection
	counters *mongo.Collection
	logger   zerolog.Logger
}

// Connect dials uri and opens a Store on the named database. The returned
// Store owns the client and disconnects it on Close.
func Connect(ctx context.Context, uri, database string, logger zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s, err := New(ctx, client.Database(database), logger)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	return s, nil
}

// New opens a Store on an existing database handle and creates the indexes.
// The caller keeps ownership of the client.
func New(ctx context.Context, db *mongo.Database, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:       db,
		licenses: db.Collection(licensesCollection),
		updates:  db.Collection(updatesCollection),
		counters: db.Collection(countersCollection),
		logger:   logger.With().Str("component", "mongo_store").Logger(),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	s.logger.Info().Str("database", db.Name()).Msg("license database initialized")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "last_seen", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	_, err := s.licenses.Indexes().CreateMany(ctx, indexes)
	return err
}

// Close disconnects the client when the Store owns it.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Health returns basic information about the store.
func (s *Store) Health() map[string]any {
	return map[string]any{
		"driver":   "mongo",
		"database": s.db.Name(),
	}
}

// GetLicenseByHash returns the license with the given key hash.
func (s *Store) GetLicenseByHash(ctx context.Context, keyHash string) (*license.License, error) {
	var doc licenseDoc
	err := s.licenses.FindOne(ctx, bson.M{"key_hash": keyHash}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return doc.toLicense()
}

// BindLicense binds hwid to an active, unbound license. A null filter on
// hwid matches both absent and null fields.
func (s *Store) BindLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	res, err := s.licenses.UpdateOne(ctx,
		bson.M{"_id": id.String(), "hwid": nil, "active": true},
		bson.M{"$set": bson.M{
			"hwid":       hwid,
			"bound_at":   seenAt,
			"last_seen":  seenAt,
			"updated_at": seenAt,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// TouchLicense records a heartbeat from the bound device. $max keeps
// last_seen monotonic.
func (s *Store) TouchLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	res, err := s.licenses.UpdateOne(ctx,
		bson.M{"_id": id.String(), "hwid": hwid, "active": true},
		bson.M{"$max": bson.M{"last_seen": seenAt}},
	)
	if err != nil {
		return false, fmt.Errorf("touch license: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// CreateLicense inserts a new license. The unique key_hash index turns a
// duplicate into license.ErrConflict.
func (s *Store) CreateLicense(ctx context.Context, lic *license.License) error {
	doc := licenseDoc{
		ID:        lic.ID.String(),
		KeyHash:   lic.KeyHash,
		Label:     lic.Label,
		HWID:      lic.HWID,
		Active:    lic.Active,
		LastSeen:  lic.LastSeen,
		BoundAt:   lic.BoundAt,
		CreatedAt: lic.CreatedAt,
		UpdatedAt: lic.UpdatedAt,
	}
	if _, err := s.licenses.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return license.ErrConflict
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// SetLicenseActive bans or unbans a license.
func (s *Store) SetLicenseActive(ctx context.Context, keyHash string, active, clearHWID bool) error {
	set := bson.M{"active": active, "updated_at": time.Now().UTC()}
	if clearHWID {
		set["hwid"] = nil
		set["bound_at"] = nil
	}
	res, err := s.licenses.UpdateOne(ctx, bson.M{"key_hash": keyHash}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	if res.MatchedCount == 0 {
		return license.ErrNotFound
	}
	return nil
}

// DeleteLicense removes a license if present.
func (s *Store) DeleteLicense(ctx context.Context, keyHash string) error {
	if _, err := s.licenses.DeleteOne(ctx, bson.M{"key_hash": keyHash}); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	return nil
}

// ListLicenses returns every license, newest first.
func (s *Store) ListLicenses(ctx context.Context) ([]*license.License, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := s.licenses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	var docs []licenseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}

	licenses := make([]*license.License, 0, len(docs))
	for i := range docs {
		lic, err := docs[i].toLicense()
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, lic)
	}
	return licenses, nil
}

// LicenseStats returns aggregate counts.
func (s *Store) LicenseStats(ctx context.Context, onlineSince time.Time) (*license.Stats, error) {
	var stats license.Stats
	counts := []struct {
		dst    *int64
		filter bson.M
	}{
		{&stats.Total, bson.M{}},
		{&stats.Active, bson.M{"active": true}},
		{&stats.Bound, bson.M{"hwid": bson.M{"$ne": nil}}},
		{&stats.Online, bson.M{"last_seen": bson.M{"$gt": onlineSince}}},
	}

	for _, f := range counts {
		n, err := s.licenses.CountDocuments(ctx, f.filter)
		if err != nil {
			return nil, fmt.Errorf("license stats: %w", err)
		}
		*f.dst = n
	}
	return &stats, nil
}

// LatestUpdate returns the update pointer with the highest id.
func (s *Store) LatestUpdate(ctx context.Context) (*updates.Pointer, error) {
	var doc pointerDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	if err := s.updates.FindOne(ctx, bson.M{}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, updates.ErrNoUpdate
		}
		return nil, fmt.Errorf("get latest update: %w", err)
	}
	return &updates.Pointer{
		ID:        doc.ID,
		Version:   doc.Version,
		URL:       doc.URL,
		SHA256:    doc.SHA256,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// PublishUpdate stores a new pointer. Ids come from a counter document so
// they increase monotonically like a SQL sequence.
func (s *Store) PublishUpdate(ctx context.Context, p *updates.Pointer) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": updatesCollection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return fmt.Errorf("allocate update id: %w", err)
	}

	doc := pointerDoc{
		ID:        counter.Seq,
		Version:   p.Version,
		URL:       p.URL,
		SHA256:    p.SHA256,
		CreatedAt: p.CreatedAt,
	}
	if _, err := s.updates.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	p.ID = counter.Seq
	return nil
}
