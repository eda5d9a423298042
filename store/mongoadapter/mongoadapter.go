// Package mongoadapter is a document-store backing for the webxdc
// status-update log (spec §4.6): an append-only sequence of small JSON
// payloads keyed by (instance, serial) is a natural fit for a document
// database, unlike the relational tables the rest of the engine's store
// uses. Its methods (Append, Since, MaxSerial, HasUid, DeleteInstance)
// cover the update log; it does not implement adapter.Adapter, which is
// what the webxdc engine talks to, and it has no methods to queue or drain
// SMTP-update ranges.
package mongoadapter

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	t "github.com/coreim/dcore/store/types"
)

// Store is a mongo-backed webxdc update log.
type Store struct {
	client     *mongo.Client
	updates    *mongo.Collection
	smtpQueue  *mongo.Collection
}

// Connect dials uri and selects collections in the given database name.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongoadapter: connect: %w", err)
	}
	db := client.Database(dbName)
	return &Store{
		client:    client,
		updates:   db.Collection("webxdc_updates"),
		smtpQueue: db.Collection("webxdc_smtp_queue"),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type updateDoc struct {
	InstanceMsgID   int64             `bson:"instance_msg_id"`
	Serial          int64             `bson:"serial"`
	Payload         []byte            `bson:"payload"`
	Info            string            `bson:"info,omitempty"`
	Document        string            `bson:"document,omitempty"`
	Summary         string            `bson:"summary,omitempty"`
	Href            string            `bson:"href,omitempty"`
	Notify          map[string]string `bson:"notify,omitempty"`
	Uid             string            `bson:"uid,omitempty"`
	SenderContactID int64             `bson:"sender_contact_id"`
	Timestamp       int64             `bson:"ts"`
}

// Append inserts u at the next serial for its instance, or discards it
// silently if u.Uid duplicates an existing row (§4.6 dedup rule).
func (s *Store) Append(ctx context.Context, u *t.WebxdcUpdate) (int64, error) {
	if u.Uid != "" {
		dup, err := s.HasUid(ctx, u.InstanceMsgID, u.Uid)
		if err != nil {
			return 0, err
		}
		if dup {
			return 0, nil
		}
	}

	max, err := s.MaxSerial(ctx, u.InstanceMsgID)
	if err != nil {
		return 0, err
	}
	serial := max + 1

	doc := updateDoc{
		InstanceMsgID:   int64(u.InstanceMsgID),
		Serial:          serial,
		Payload:         u.Payload,
		Info:            u.Info,
		Document:        u.Document,
		Summary:         u.Summary,
		Href:            u.Href,
		Notify:          u.Notify,
		Uid:             u.Uid,
		SenderContactID: int64(u.SenderContactID),
		Timestamp:       u.Timestamp.Unix(),
	}
	if _, err := s.updates.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("mongoadapter: Append: %w", err)
	}
	u.Serial = serial
	return serial, nil
}

func (s *Store) Since(ctx context.Context, instance t.MsgID, afterSerial int64) ([]t.WebxdcUpdate, error) {
	filter := bson.M{"instance_msg_id": int64(instance), "serial": bson.M{"$gt": afterSerial}}
	opts := options.Find().SetSort(bson.D{{Key: "serial", Value: 1}})
	cur, err := s.updates.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoadapter: Since: %w", err)
	}
	defer cur.Close(ctx)

	var out []t.WebxdcUpdate
	for cur.Next(ctx) {
		var doc updateDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongoadapter: Since: %w", err)
		}
		out = append(out, t.WebxdcUpdate{
			InstanceMsgID:   t.MsgID(doc.InstanceMsgID),
			Serial:          doc.Serial,
			Payload:         doc.Payload,
			Info:            doc.Info,
			Document:        doc.Document,
			Summary:         doc.Summary,
			Href:            doc.Href,
			Notify:          doc.Notify,
			Uid:             doc.Uid,
			SenderContactID: t.ContactID(doc.SenderContactID),
		})
	}
	return out, cur.Err()
}

func (s *Store) MaxSerial(ctx context.Context, instance t.MsgID) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "serial", Value: -1}})
	var doc updateDoc
	err := s.updates.FindOne(ctx, bson.M{"instance_msg_id": int64(instance)}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mongoadapter: MaxSerial: %w", err)
	}
	return doc.Serial, nil
}

func (s *Store) HasUid(ctx context.Context, instance t.MsgID, uid string) (bool, error) {
	count, err := s.updates.CountDocuments(ctx, bson.M{"instance_msg_id": int64(instance), "uid": uid})
	if err != nil {
		return false, fmt.Errorf("mongoadapter: HasUid: %w", err)
	}
	return count > 0, nil
}

func (s *Store) DeleteInstance(ctx context.Context, instance t.MsgID) error {
	if _, err := s.updates.DeleteMany(ctx, bson.M{"instance_msg_id": int64(instance)}); err != nil {
		return fmt.Errorf("mongoadapter: DeleteInstance: %w", err)
	}
	if _, err := s.smtpQueue.DeleteMany(ctx, bson.M{"instance_msg_id": int64(instance)}); err != nil {
		return fmt.Errorf("mongoadapter: DeleteInstance: %w", err)
	}
	return nil
}
