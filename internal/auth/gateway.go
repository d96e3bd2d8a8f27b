// Package auth implements the authentication gateway: credential
// verification, session token issue/destroy, and token resolution.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
)

// Session keys are namespaced under this prefix.
const tokenKeyPrefix = "auth_"

// ErrUnauthorized is returned when credentials or tokens do not resolve
// to a principal.
var ErrUnauthorized = errors.New("Unauthorized")

// ErrEmailExists is returned by Register for an already-registered email.
var ErrEmailExists = errors.New("Already exist")

// SessionStore is the TTL key-value slice consumed by the gateway.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// UserStore is the metadata slice consumed by the gateway.
type UserStore interface {
	InsertUser(ctx context.Context, email, passwordHash string) (primitive.ObjectID, error)
	UserByEmail(ctx context.Context, email string) (*metadata.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*metadata.User, error)
}

// Gateway validates credentials and maps opaque tokens to principals.
// Tokens carry no decodable structure; they are pure lookup keys.
type Gateway struct {
	users    UserStore
	sessions SessionStore
	ttl      time.Duration
}

// NewGateway creates a gateway around the injected stores.
func NewGateway(users UserStore, sessions SessionStore, ttl time.Duration) *Gateway {
	return &Gateway{users: users, sessions: sessions, ttl: ttl}
}

// Register creates a new user and returns its id.
func (g *Gateway) Register(ctx context.Context, email, password string) (string, error) {
	existing, err := g.users.UserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	id, err := g.users.InsertUser(ctx, email, string(hash))
	if err != nil {
		return "", err
	}
	return id.Hex(), nil
}

// Connect verifies credentials and issues a fresh session token with the
// gateway's fixed TTL.
func (g *Gateway) Connect(ctx context.Context, email, password string) (string, error) {
	user, err := g.users.UserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		metrics.RecordAuthAttempt("failure")
		return "", ErrUnauthorized
	}

	token := uuid.NewString()
	if err := g.sessions.Set(ctx, tokenKeyPrefix+token, user.ID.Hex(), g.ttl); err != nil {
		return "", err
	}
	metrics.RecordAuthAttempt("success")
	return token, nil
}

// Disconnect destroys the session behind token.
func (g *Gateway) Disconnect(ctx context.Context, token string) error {
	key := tokenKeyPrefix + token
	_, ok, err := g.sessions.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return g.sessions.Del(ctx, key)
}

// UserFromToken resolves a token to its principal. Missing, expired and
// dangling tokens all yield ErrUnauthorized.
func (g *Gateway) UserFromToken(ctx context.Context, token string) (*metadata.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	userID, ok, err := g.sessions.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	user, err := g.users.UserByID(ctx, metadata.ObjectIDOrNil(userID))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// OptionalUserFromToken resolves a token when possible. It returns
// (nil, nil) for anonymous or unresolvable tokens so public content
// stays reachable without credentials.
func (g *Gateway) OptionalUserFromToken(ctx context.Context, token string) (*metadata.User, error) {
	user, err := g.UserFromToken(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
