//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pa "github.com/panyam/profileauth"
)

// AutoMigrate creates or updates all profileauth tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ConnectionModel{},
		&ResetTokenModel{},
	)
}

// Store implements pa.Store using GORM.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// isDuplicate recognizes unique violations from postgres and sqlite, with
// or without gorm's TranslateError.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const pgUniqueViolation = "23505"

// duplicateUserError maps a unique violation on users to the claim that was
// taken. Postgres names the violated index; other dialects and translated
// errors do not, so the taken value is looked up instead.
func (s *Store) duplicateUserError(ctx context.Context, err error, model *UserModel) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.ConstraintName {
		case "idx_users_username":
			return pa.ErrDuplicateUsername
		case "idx_users_email":
			return pa.ErrDuplicateEmail
		}
	}
	db := s.db.WithContext(ctx).Model(&UserModel{})
	var count int64
	if qerr := db.Where("username = ?", model.Username).Count(&count).Error; qerr != nil {
		return qerr
	}
	if count == 0 && model.Email != nil {
		return pa.ErrDuplicateEmail
	}
	return pa.ErrDuplicateUsername
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, pa.ErrNotFound)
	}
	return err
}

// =============================================================================
// UserStore
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, user *pa.User) error {
	model := UserToModel(user)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return s.duplicateUserError(ctx, err, model)
		}
		return err
	}
	user.ID = model.ID
	return nil
}

func (s *Store) getUser(ctx context.Context, what string, query string, arg any) (*pa.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		return nil, notFound(err, what)
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*pa.User, error) {
	return s.getUser(ctx, fmt.Sprintf("user %d", id), "id = ?", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*pa.User, error) {
	return s.getUser(ctx, fmt.Sprintf("username %q", username), "username = ?", username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*pa.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email: %w", pa.ErrNotFound)
	}
	return s.getUser(ctx, "email", "email = ?", email)
}

// UpdatePasswordHash is a conditional UPDATE on the previous hash. When no
// row matches, a second read tells a missing user from a lost race.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, oldHash, newHash string) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&UserModel{}).
		Where("id = ? AND password_hash = ?", userID, oldHash).
		Updates(map[string]any{"password_hash": newHash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := db.Model(&UserModel{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
	}
	return fmt.Errorf("user %d: %w", userID, pa.ErrPasswordHashChanged)
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&ConnectionModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&UserModel{}, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
		}
		return nil
	})
}

// =============================================================================
// ConnectionStore
// =============================================================================

func (s *Store) GetConnection(ctx context.Context, provider, subject string) (*pa.SocialConnection, error) {
	var model ConnectionModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND subject = ?", provider, subject).Error
	if err != nil {
		return nil, notFound(err, "connection")
	}
	return model.ToConnection(), nil
}

func (s *Store) UpsertConnection(ctx context.Context, conn *pa.SocialConnection) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ConnectionModel
		err := tx.First(&existing, "provider = ? AND subject = ?", conn.Provider, conn.Subject).Error
		if err == nil && existing.UserID != conn.UserID {
			return pa.ErrIdentityInUse
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		res := tx.Model(&ConnectionModel{}).
			Where("user_id = ? AND provider = ?", conn.UserID, conn.Provider).
			Updates(map[string]any{
				"subject":       conn.Subject,
				"access_token":  conn.AccessToken,
				"refresh_token": conn.RefreshToken,
				"connected_at":  conn.ConnectedAt,
			})
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
		return tx.Create(ConnectionToModel(conn)).Error
	})
	// A concurrent insert of the same identity for another user lands on
	// the (provider, subject) index.
	if err != nil && !errors.Is(err, pa.ErrIdentityInUse) && isDuplicate(err) {
		return pa.ErrIdentityInUse
	}
	return err
}

func (s *Store) ListConnections(ctx context.Context, userID int64) ([]*pa.SocialConnection, error) {
	var models []ConnectionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider").Find(&models).Error; err != nil {
		return nil, err
	}
	conns := make([]*pa.SocialConnection, len(models))
	for i := range models {
		conns[i] = models[i].ToConnection()
	}
	return conns, nil
}

// =============================================================================
// ResetTokenStore
// =============================================================================

func (s *Store) CreateResetToken(ctx context.Context, token *pa.PasswordResetToken) error {
	model := &ResetTokenModel{
		TokenHash: token.TokenHash,
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (*pa.PasswordResetToken, error) {
	var model ResetTokenModel
	if err := s.db.WithContext(ctx).First(&model, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, notFound(err, "reset token")
	}
	return model.ToResetToken(), nil
}

// ConsumeResetToken claims the token with a conditional update, so of two
// concurrent consumers exactly one sees a row affected.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*pa.PasswordResetToken, error) {
	var model ResetTokenModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ResetTokenModel{}).
			Where("token_hash = ? AND used = ? AND expires_at > ?", tokenHash, false, now).
			Updates(map[string]any{"used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pa.ErrInvalidResetToken
		}
		if err := tx.First(&model, "token_hash = ?", tokenHash).Error; err != nil {
			return err
		}

		res = tx.Model(&UserModel{}).
			Where("email = ?", model.Email).
			Updates(map[string]any{"password_hash": newPasswordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pa.ErrInvalidResetToken
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.ToResetToken(), nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&ResetTokenModel{})
	return int(res.RowsAffected), res.Error
}

var _ pa.Store = (*Store)(nil)
