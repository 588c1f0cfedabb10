package profileauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panyam/profileauth/password"
)

// PasswordResets runs the self-service password recovery lifecycle.
type PasswordResets struct {
	Users        UserStore
	Tokens       ResetTokenStore
	Hasher       *password.Hasher
	Email        EmailSender
	Policy       Policy
	TTL          time.Duration
	EmailTimeout time.Duration
	Metrics      *Metrics
	Logger       *slog.Logger

	// Now is overridden in tests.
	Now func() time.Time
}

func (p *PasswordResets) ttl() time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return TokenExpiryPasswordReset
}

func (p *PasswordResets) emailTimeout() time.Duration {
	if p.EmailTimeout > 0 {
		return p.EmailTimeout
	}
	return 10 * time.Second
}

func (p *PasswordResets) hasher() *password.Hasher {
	if p.Hasher != nil {
		return p.Hasher
	}
	return password.Default()
}

func (p *PasswordResets) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *PasswordResets) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// RequestReset issues a token for email and mails it. Unknown emails return
// nil without doing anything, so callers can answer identically either way.
// Failures to persist wrap ErrStorage; failures to send wrap ErrEmailDelivery.
func (p *PasswordResets) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	p.Metrics.Reset("requested")

	user, err := p.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		p.log().Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: looking up user: %v", ErrStorage, err)
	}

	now := p.now().UTC()
	if n, err := p.Tokens.DeleteExpiredResetTokens(ctx, now); err != nil {
		p.log().Warn("reset token cleanup failed", "error", err)
	} else if n > 0 {
		p.log().Debug("removed expired reset tokens", "count", n)
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	record := &PasswordResetToken{
		TokenHash: HashToken(token),
		Email:     email,
		ExpiresAt: now.Add(p.ttl()),
		CreatedAt: now,
	}
	if err := p.Tokens.CreateResetToken(ctx, record); err != nil {
		return fmt.Errorf("%w: saving reset token: %v", ErrStorage, err)
	}
	p.Metrics.Reset("issued")

	sendCtx, cancel := context.WithTimeout(ctx, p.emailTimeout())
	defer cancel()
	if err := p.Email.SendPasswordResetEmail(sendCtx, email, token); err != nil {
		p.Metrics.EmailFailure()
		p.log().Error("sending reset email", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}
	p.Metrics.Reset("email_sent")
	p.log().Info("password reset email sent", "user_id", user.ID)
	return nil
}

// VerifyToken reports whether token can currently be used, and for which
// email. It never modifies the token.
func (p *PasswordResets) VerifyToken(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	record, err := p.Tokens.GetResetToken(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !record.ValidAt(p.now().UTC()) {
		return "", false, nil
	}
	return record.Email, true, nil
}

// ResetPassword consumes token and sets the new password in one store
// operation. Every kind of bad token yields ErrInvalidResetToken.
func (p *PasswordResets) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := p.Policy.CheckPassword(newPassword, "newPassword"); err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidResetToken
	}
	hash, err := p.hasher().Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	record, err := p.Tokens.ConsumeResetToken(ctx, HashToken(token), p.now().UTC(), hash)
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			p.Metrics.Reset("rejected")
		}
		return err
	}
	p.Metrics.Reset("consumed")
	p.log().Info("password reset completed", "email", record.Email)
	return nil
}

// Cleanup removes expired tokens.
func (p *PasswordResets) Cleanup(ctx context.Context) (int, error) {
	return p.Tokens.DeleteExpiredResetTokens(ctx, p.now().UTC())
}

// RunCleanup calls Cleanup every interval until ctx is done. A
// non-positive interval disables it.
func (p *PasswordResets) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Cleanup(ctx)
			if err != nil {
				p.log().Warn("reset token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				p.log().Info("removed expired reset tokens", "count", n)
			}
		}
	}
}
