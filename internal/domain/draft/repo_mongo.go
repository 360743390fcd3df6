package draft

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the Mongo collection holding drafts.
const CollectionName = "encounter_drafts"

type repoMongo struct {
	coll *mongo.Collection
}

// mongoDraft is the stored document; _id is the patient id so the collection
// can hold at most one draft per patient.
type mongoDraft struct {
	PatientID string    `bson:"_id"`
	Payload   string    `bson:"payload"`
	SavedAt   time.Time `bson:"savedAt"`
}

// NewRepoMongo returns a Repository backed by the encounter_drafts collection.
func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the savedAt index used by PurgeBefore.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "savedAt", Value: 1}},
	})
	return err
}

func (r *repoMongo) Get(ctx context.Context, patientID string) (*Record, error) {
	var doc mongoDraft
	err := r.coll.FindOne(ctx, bson.M{"_id": patientID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Record{
		PatientID: doc.PatientID,
		Payload:   []byte(doc.Payload),
		SavedAt:   doc.SavedAt,
	}, nil
}

func (r *repoMongo) Put(ctx context.Context, rec *Record) error {
	doc := mongoDraft{
		PatientID: rec.PatientID,
		Payload:   string(rec.Payload),
		SavedAt:   rec.SavedAt,
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": rec.PatientID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *repoMongo) Delete(ctx context.Context, patientID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": patientID})
	return err
}

func (r *repoMongo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"savedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
