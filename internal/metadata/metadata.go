// Package metadata provides the MongoDB-backed document store for users
// and file records.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// RootParent is the stored parentId value for records living at the root.
const RootParent = "0"

// User is a stored user document.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Email    string             `bson:"email"`
	Password string             `bson:"password"`
}

// File is a stored file document. ParentID holds either the string "0"
// (root) or the ObjectID of a folder.
type File struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	Name      string             `bson:"name"`
	Type      string             `bson:"type"`
	IsPublic  bool               `bson:"isPublic"`
	ParentID  any                `bson:"parentId"`
	LocalPath string             `bson:"localPath,omitempty"`
}

// Store owns the users and files collections.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	files  *mongo.Collection
}

// New connects to MongoDB and returns a store bound to dbName.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	db := client.Database(dbName)
	return &Store{
		client: client,
		users:  db.Collection("users"),
		files:  db.Collection("files"),
	}, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) bool {
	return s.client.Ping(ctx, readpref.Primary()) == nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ObjectIDOrNil parses a 24-character hex id. Any other shape yields the
// all-zero ObjectID, which is queried as-is and matches nothing real.
func ObjectIDOrNil(id string) primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID
	}
	return oid
}

// ─── Users ──────────────────────────────────────────────────────────────────

// InsertUser stores a new user and returns its id.
func (s *Store) InsertUser(ctx context.Context, email, passwordHash string) (primitive.ObjectID, error) {
	res, err := s.users.InsertOne(ctx, bson.M{"email": email, "password": passwordHash})
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert user: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

// UserByEmail returns the user with the given email, or nil.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &u, nil
}

// UserByID returns the user with the given id, or nil.
func (s *Store) UserByID(ctx context.Context, id primitive.ObjectID) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.users.CountDocuments(ctx, bson.M{})
}

// ─── Files ──────────────────────────────────────────────────────────────────

// InsertFile stores a new file document and returns its id.
func (s *Store) InsertFile(ctx context.Context, f *File) (primitive.ObjectID, error) {
	res, err := s.files.InsertOne(ctx, f)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert file: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

// FileByID returns the file with the given id, or nil.
func (s *Store) FileByID(ctx context.Context, id primitive.ObjectID) (*File, error) {
	var f File
	err := s.files.FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find file by id: %w", err)
	}
	return &f, nil
}

// FileByIDAndOwner returns the file matching both id and owner, or nil.
func (s *Store) FileByIDAndOwner(ctx context.Context, id, owner primitive.ObjectID) (*File, error) {
	var f File
	err := s.files.FindOne(ctx, bson.M{"_id": id, "userId": owner}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find file by id and owner: %w", err)
	}
	return &f, nil
}

// ListFiles returns the owner's files under parent, newest first.
// parent is either RootParent or an ObjectID.
func (s *Store) ListFiles(ctx context.Context, owner primitive.ObjectID, parent any, skip, limit int64) ([]File, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := s.files.Find(ctx, bson.M{"userId": owner, "parentId": parent}, opts)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer cur.Close(ctx)

	var out []File
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return out, nil
}

// SetFilePublic updates the isPublic flag on the file matching id and owner.
func (s *Store) SetFilePublic(ctx context.Context, id, owner primitive.ObjectID, public bool) error {
	_, err := s.files.UpdateOne(ctx,
		bson.M{"_id": id, "userId": owner},
		bson.M{"$set": bson.M{"isPublic": public}},
	)
	if err != nil {
		return fmt.Errorf("update file visibility: %w", err)
	}
	return nil
}

// CountFiles returns the number of stored file records.
func (s *Store) CountFiles(ctx context.Context) (int64, error) {
	return s.files.CountDocuments(ctx, bson.M{})
}
