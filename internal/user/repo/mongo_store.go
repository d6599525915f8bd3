package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

const usersCollection = "users"

// MongoStore keeps one document per user, keyed by a unique email index.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email index the upsert relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*entity.User, error) {
	var u entity.User
	if err := s.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Modes = entity.NormalizeModes(u.Modes)
	if u.LoginIPs == nil {
		u.LoginIPs = []string{}
	}
	if u.Connects == nil {
		u.Connects = []entity.ConnectedAccount{}
	}
	return &u, nil
}

// InsertIfAbsent upserts with $setOnInsert and asks for the document as it was
// before the update: no document means this call inserted it. Two racing
// upserts can both miss and one of them then fails on the unique index; the
// retry finds the winner's document.
func (s *MongoStore) InsertIfAbsent(ctx context.Context, nu entity.NewUser) (bool, error) {
	onInsert := bson.M{
		"_id":            bson.NewObjectID().Hex(),
		"username":       nu.Username,
		"verified_email": nu.VerifiedEmail,
		"modes":          entity.NormalizeModes(nu.Modes),
		"login_ips":      bson.A{},
		"connects":       bson.A{},
	}
	if nu.PasswordHash != nil {
		onInsert["password_hash"] = *nu.PasswordHash
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)

	for attempt := 0; ; attempt++ {
		err := s.coll.FindOneAndUpdate(ctx, bson.M{"email": nu.Email}, bson.M{"$setOnInsert": onInsert}, opts).Err()
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return true, nil
		case err == nil:
			return false, nil
		case mongo.IsDuplicateKeyError(err) && attempt == 0:
			continue
		default:
			return false, err
		}
	}
}

func (s *MongoStore) AddLoginIPAndModes(ctx context.Context, email, ip string, modes []entity.Mode) error {
	add := bson.M{"modes": bson.M{"$each": entity.NormalizeModes(modes)}}
	if ip != "" {
		add["login_ips"] = bson.M{"$each": bson.A{ip}}
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$addToSet": add})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertConnect replaces the entry for c.Provider in place, or appends one.
// $addToSet cannot do this since it compares whole documents.
func (s *MongoStore) UpsertConnect(ctx context.Context, email string, c entity.ConnectedAccount) error {
	entry := bson.M{"$literal": bson.M{"provider": string(c.Provider), "name": c.Name, "email": c.Email}}
	connects := bson.M{"$ifNull": bson.A{"$connects", bson.A{}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"connects": bson.M{"$cond": bson.M{
			"if": bson.M{"$in": bson.A{string(c.Provider), bson.M{"$ifNull": bson.A{"$connects.provider", bson.A{}}}}},
			"then": bson.M{"$map": bson.M{
				"input": connects,
				"as":    "c",
				"in":    bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$$c.provider", string(c.Provider)}}, entry, "$$c"}},
			}},
			"else": bson.M{"$concatArrays": bson.A{connects, bson.A{entry}}},
		}}}}},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"email": email}, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetEmailVerified(ctx context.Context, email string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"verified_email": true}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) UpdateProfile(ctx context.Context, id string, username *string, modes []entity.Mode) error {
	set := bson.M{}
	if username != nil {
		set["username"] = *username
	}
	if modes != nil {
		set["modes"] = entity.NormalizeModes(modes)
	}
	if len(set) == 0 {
		_, err := s.FindByID(ctx, id)
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}
