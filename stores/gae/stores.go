//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	pa "github.com/panyam/profileauth"
)

// Kind constants for Datastore entities
const (
	KindUser         = "User"
	KindUsername     = "Username"
	KindEmail        = "Email"
	KindConnection   = "Connection"
	KindUserProvider = "UserProvider"
	KindResetToken   = "ResetToken"
)

// Store implements pa.Store using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
}

// New creates a Datastore-backed store. An empty namespace is the default
// namespace.
func New(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) nameKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) userKey(id int64) *datastore.Key {
	key := datastore.IDKey(KindUser, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if s.namespace != "" {
		q = q.Namespace(s.namespace)
	}
	return q
}

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *pa.User) error {
	incomplete := datastore.IncompleteKey(KindUser, nil)
	incomplete.Namespace = s.namespace
	keys, err := s.client.AllocateIDs(ctx, []*datastore.Key{incomplete})
	if err != nil {
		return fmt.Errorf("allocating user id: %w", err)
	}
	key := keys[0]
	email := user.EmailAddress()

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		markers := []*datastore.Key{s.nameKey(KindUsername, user.Username)}
		if email != "" {
			markers = append(markers, s.nameKey(KindEmail, email))
		}
		for _, mk := range markers {
			var m MarkerEntity
			err := tx.Get(mk, &m)
			if err == nil {
				if mk.Kind == KindEmail {
					return pa.ErrDuplicateEmail
				}
				return pa.ErrDuplicateUsername
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		entities := []any{UserToEntity(user, key)}
		keys := []*datastore.Key{key}
		for _, mk := range markers {
			entities = append(entities, &MarkerEntity{UserID: key.ID})
			keys = append(keys, mk)
		}
		_, err := tx.PutMulti(keys, entities)
		return err
	})
	if err != nil {
		return err
	}
	user.ID = key.ID
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*pa.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.userKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("user %d: %w", id, pa.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

// byMarker resolves a uniqueness marker to its user.
func (s *Store) byMarker(ctx context.Context, kind, name string) (*pa.User, error) {
	var m MarkerEntity
	if err := s.client.Get(ctx, s.nameKey(kind, name), &m); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("%s: %w", kind, pa.ErrNotFound)
		}
		return nil, err
	}
	return s.GetUserByID(ctx, m.UserID)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*pa.User, error) {
	return s.byMarker(ctx, KindUsername, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*pa.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email: %w", pa.ErrNotFound)
	}
	return s.byMarker(ctx, KindEmail, email)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, oldHash, newHash string) error {
	key := s.userKey(userID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
			}
			return err
		}
		if entity.PasswordHash != oldHash {
			return fmt.Errorf("user %d: %w", userID, pa.ErrPasswordHashChanged)
		}
		entity.PasswordHash = newHash
		entity.UpdatedAt = time.Now().UTC()
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// DeleteUser removes the user with its markers and connections. Connections
// are listed before the transaction since it cannot run non-ancestor queries.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	conns, err := s.ListConnections(ctx, userID)
	if err != nil {
		return err
	}
	key := s.userKey(userID)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
			}
			return err
		}
		keys := []*datastore.Key{key, s.nameKey(KindUsername, entity.Username)}
		if entity.Email != "" {
			keys = append(keys, s.nameKey(KindEmail, entity.Email))
		}
		for _, c := range conns {
			keys = append(keys,
				s.connectionKey(c.Provider, c.Subject),
				s.nameKey(KindUserProvider, fmt.Sprintf("%d:%s", userID, c.Provider)))
		}
		return tx.DeleteMulti(keys)
	})
	return err
}

// ============================================================================
// ConnectionStore
// ============================================================================

func (s *Store) connectionKey(provider, subject string) *datastore.Key {
	return s.nameKey(KindConnection, provider+":"+subject)
}

func (s *Store) GetConnection(ctx context.Context, provider, subject string) (*pa.SocialConnection, error) {
	var entity ConnectionEntity
	if err := s.client.Get(ctx, s.connectionKey(provider, subject), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("connection: %w", pa.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToConnection(), nil
}

func (s *Store) UpsertConnection(ctx context.Context, conn *pa.SocialConnection) error {
	key := s.connectionKey(conn.Provider, conn.Subject)
	slot := s.nameKey(KindUserProvider, fmt.Sprintf("%d:%s", conn.UserID, conn.Provider))

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing ConnectionEntity
		err := tx.Get(key, &existing)
		if err == nil && existing.UserID != conn.UserID {
			return pa.ErrIdentityInUse
		}
		if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		// The user may be replacing a connection to a different account on
		// the same provider.
		var prev MarkerEntity
		err = tx.Get(slot, &prev)
		if err == nil && prev.Subject != conn.Subject {
			if err := tx.Delete(s.connectionKey(conn.Provider, prev.Subject)); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		_, err = tx.PutMulti(
			[]*datastore.Key{key, slot},
			[]any{
				&ConnectionEntity{
					UserID:       conn.UserID,
					Provider:     conn.Provider,
					Subject:      conn.Subject,
					AccessToken:  conn.AccessToken,
					RefreshToken: conn.RefreshToken,
					ConnectedAt:  conn.ConnectedAt,
				},
				&MarkerEntity{UserID: conn.UserID, Subject: conn.Subject},
			})
		return err
	})
	return err
}

func (s *Store) ListConnections(ctx context.Context, userID int64) ([]*pa.SocialConnection, error) {
	query := s.query(KindConnection).FilterField("user_id", "=", userID)

	var conns []*pa.SocialConnection
	it := s.client.Run(ctx, query)
	for {
		var entity ConnectionEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, entity.ToConnection())
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Provider < conns[j].Provider })
	return conns, nil
}

// ============================================================================
// ResetTokenStore
// ============================================================================

func (s *Store) CreateResetToken(ctx context.Context, token *pa.PasswordResetToken) error {
	key := s.nameKey(KindResetToken, token.TokenHash)
	_, err := s.client.Put(ctx, key, &ResetTokenEntity{
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	})
	return err
}

func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (*pa.PasswordResetToken, error) {
	var entity ResetTokenEntity
	if err := s.client.Get(ctx, s.nameKey(KindResetToken, tokenHash), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("reset token: %w", pa.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToResetToken(), nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*pa.PasswordResetToken, error) {
	key := s.nameKey(KindResetToken, tokenHash)
	var token ResetTokenEntity

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &token); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return pa.ErrInvalidResetToken
			}
			return err
		}
		if !token.ToResetToken().ValidAt(now) {
			return pa.ErrInvalidResetToken
		}

		var marker MarkerEntity
		if err := tx.Get(s.nameKey(KindEmail, token.Email), &marker); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return pa.ErrInvalidResetToken
			}
			return err
		}
		userKey := s.userKey(marker.UserID)
		var user UserEntity
		if err := tx.Get(userKey, &user); err != nil {
			return err
		}

		token.Used, token.UsedAt = true, now
		user.PasswordHash, user.UpdatedAt = newPasswordHash, now
		_, err := tx.PutMulti([]*datastore.Key{key, userKey}, []any{&token, &user})
		return err
	})
	if err != nil {
		return nil, err
	}
	token.Key = key
	return token.ToResetToken(), nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	query := s.query(KindResetToken).
		FilterField("expires_at", "<", now).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(keys) > 0 {
		if err := s.client.DeleteMulti(ctx, keys); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

var _ pa.Store = (*Store)(nil)
