package pjutsauth

import (
	"context"
	"time"
)

// Credential is the minimum an account store must expose for the password
// step. PasswordHash is an Argon2id PHC string or a legacy bcrypt hash.
type Credential struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
}

// CredentialStore looks up accounts by normalized (trimmed, lowercase) email.
// Missing accounts must yield an error wrapping [ErrRecordNotFound].
type CredentialStore interface {
	FindCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	UpdatePasswordHash(ctx context.Context, credentialID, passwordHash string) error
}

// ResetToken is a stored password-reset token. Only the SHA-256 hex digest of
// the emailed token is persisted.
type ResetToken struct {
	Email     string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ResetTokenStore persists reset tokens. At most one token exists per email:
// ReplaceResetToken deletes older tokens for the email and inserts the new one
// in a single transaction.
//
// ConsumeResetToken must atomically delete the token row and set the new
// password hash on credentialID. If the token row is already gone it returns
// [ErrRecordNotFound] and changes nothing, so two racing consumers cannot both
// succeed.
type ResetTokenStore interface {
	ReplaceResetToken(ctx context.Context, email, tokenHash string, expiresAt time.Time) error
	FindResetToken(ctx context.Context, tokenHash string) (*ResetToken, error)
	DeleteResetToken(ctx context.Context, tokenHash string) error
	ConsumeResetToken(ctx context.Context, tokenHash, credentialID, newPasswordHash string) error
}

// ShareCode grants read-only access to the public monitoring map.
type ShareCode struct {
	ID         string
	Code       string
	Label      string
	IsActive   bool
	ExpiresAt  *time.Time
	UsageCount int64
	LastUsedAt *time.Time
	CreatedBy  string
	CreatedAt  time.Time
}

// ValidAt reports whether the code is active and now is not after its expiry.
func (s ShareCode) ValidAt(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.ExpiresAt == nil || !now.After(*s.ExpiresAt)
}

// ShareCodeStore persists share codes. Codes are stored upper-case.
type ShareCodeStore interface {
	FindShareCode(ctx context.Context, code string) (*ShareCode, error)
	RecordShareCodeUse(ctx context.Context, code string, at time.Time) error
	ListShareCodes(ctx context.Context) ([]ShareCode, error)
	CreateShareCode(ctx context.Context, code ShareCode) error
	SetShareCodeActive(ctx context.Context, id string, active bool) (*ShareCode, error)
	DeleteShareCode(ctx context.Context, id string) error
}

// Repository is a store that implements all three persistence interfaces, as
// the postgres and memstore packages do.
type Repository interface {
	CredentialStore
	ResetTokenStore
	ShareCodeStore
}

// Mailer delivers the password-reset link.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string, expiresAt time.Time) error
}

// PasswordHasher is implemented by *password.Hasher. It is injectable so
// tests can observe or speed up hashing.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) (bool, error)
}

// Role is a dashboard role carried by an authenticated principal.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Principal is the authenticated caller of an administrative operation,
// resolved by the outer session layer.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

func (p Principal) IsAdmin() bool {
	return p.ID != "" && p.Role == RoleAdmin
}

// PinChallenge is returned after a correct password. PIN is shown to the
// user; SessionToken must accompany the verify call.
type PinChallenge struct {
	PIN          string
	SessionToken string
	ExpiresIn    time.Duration
	ExpiresAt    time.Time
}

// PinVerification carries the short-lived token that the session layer
// exchanges for a login session.
type PinVerification struct {
	VerificationToken string
	Email             string
	ExpiresAt         time.Time
}

// VerifiedIdentity is the result of consuming a verification token.
type VerifiedIdentity struct {
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ResetRequestResult is identical for every input.
type ResetRequestResult struct {
	Success bool
}

// CreateShareCodeInput describes a new share code. An empty Code is generated.
type CreateShareCodeInput struct {
	Code      string
	Label     string
	ExpiresAt *time.Time
}
