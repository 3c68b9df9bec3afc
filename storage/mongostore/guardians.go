// Package mongostore keeps guardian envelopes in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GuardianStorage implements interfaces.GuardianStorage. One document per
// (guardian, share id); Fetch picks the newest envelope of the owner.
type GuardianStorage struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *slog.Logger
}

type envelopeDoc struct {
	ID          string    `bson:"_id,omitempty"`
	GuardianID  string    `bson:"guardian_id"`
	OwnerUserID string    `bson:"owner_user_id"`
	ShareID     string    `bson:"share_id"`
	Channel     string    `bson:"channel"`
	Destination string    `bson:"destination_id"`
	Nonce       []byte    `bson:"nonce"`
	Ciphertext  []byte    `bson:"ciphertext"`
	AuthTag     []byte    `bson:"auth_tag"`
	Ephemeral   []byte    `bson:"ephemeral_public_key,omitempty"`
	EncryptedAt time.Time `bson:"encrypted_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// Connect opens a client for uri and returns storage backed by dbName.collName.
func Connect(ctx context.Context, uri, dbName, collName string, log *slog.Logger) (*GuardianStorage, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	storage, err := NewGuardianStorage(ctx, cli.Database(dbName).Collection(collName), log)
	if err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	storage.client = cli
	return storage, nil
}

// NewGuardianStorage uses an existing collection and ensures its lookup index.
func NewGuardianStorage(ctx context.Context, coll *mongo.Collection, log *slog.Logger) (*GuardianStorage, error) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "guardian_id", Value: 1},
			{Key: "owner_user_id", Value: 1},
			{Key: "encrypted_at", Value: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create envelope index: %w", err)
	}
	return &GuardianStorage{coll: coll, log: log}, nil
}

// Close disconnects a client opened by Connect.
func (g *GuardianStorage) Close(ctx context.Context) error {
	if g.client == nil {
		return nil
	}
	return g.client.Disconnect(ctx)
}

func (g *GuardianStorage) Store(ctx context.Context, guardianID interfaces.GuardianID, envelope interfaces.EncryptedShareEnvelope, ownerUserID interfaces.UserID) error {
	id := guardianID + "/" + envelope.ShareID
	_, err := g.coll.UpdateByID(ctx, id,
		bson.M{
			"$set": envelopeDoc{
				GuardianID:  guardianID,
				OwnerUserID: ownerUserID,
				ShareID:     envelope.ShareID,
				Channel:     string(envelope.Channel),
				Destination: envelope.DestinationID,
				Nonce:       envelope.Nonce,
				Ciphertext:  envelope.Ciphertext,
				AuthTag:     envelope.AuthTag,
				Ephemeral:   envelope.EphemeralPublicKey,
				EncryptedAt: envelope.EncryptedAt,
				UpdatedAt:   time.Now().UTC(),
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store envelope for guardian %s: %w", guardianID, err)
	}
	g.log.Debug("stored guardian envelope", "guardianID", guardianID, "shareID", envelope.ShareID)
	return nil
}

func (g *GuardianStorage) Fetch(ctx context.Context, guardianID interfaces.GuardianID, ownerUserID interfaces.UserID) (interfaces.EncryptedShareEnvelope, error) {
	var doc envelopeDoc
	err := g.coll.FindOne(ctx,
		bson.M{"guardian_id": guardianID, "owner_user_id": ownerUserID},
		options.FindOne().SetSort(bson.D{{Key: "encrypted_at", Value: -1}, {Key: "updated_at", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("%w: guardian %s, user %s", interfaces.ErrEnvelopeNotFound, guardianID, ownerUserID)
	}
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("failed to fetch envelope: %w", err)
	}

	return doc.envelope(), nil
}

func (g *GuardianStorage) FetchShare(ctx context.Context, guardianID interfaces.GuardianID, shareID string) (interfaces.EncryptedShareEnvelope, error) {
	var doc envelopeDoc
	err := g.coll.FindOne(ctx, bson.M{"_id": guardianID + "/" + shareID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("%w: guardian %s, share %s", interfaces.ErrEnvelopeNotFound, guardianID, shareID)
	}
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("failed to fetch envelope: %w", err)
	}
	return doc.envelope(), nil
}

func (doc envelopeDoc) envelope() interfaces.EncryptedShareEnvelope {
	return interfaces.EncryptedShareEnvelope{
		ShareID:            doc.ShareID,
		UserID:             doc.OwnerUserID,
		Channel:            interfaces.Channel(doc.Channel),
		DestinationID:      doc.Destination,
		Nonce:              doc.Nonce,
		Ciphertext:         doc.Ciphertext,
		AuthTag:            doc.AuthTag,
		EphemeralPublicKey: doc.Ephemeral,
		EncryptedAt:        doc.EncryptedAt.UTC(),
	}
}
