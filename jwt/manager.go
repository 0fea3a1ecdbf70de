package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the verification-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"

	// MaxTTL is the longest lifetime a verification token may be issued with.
	MaxTTL = 30 * time.Second

	maxLeeway    = 5 * time.Second
	minHMACBytes = 32
)

var (
	ErrNotVerified       = errors.New("verification claim missing")
	ErrMissingSubject    = errors.New("verification token has no email")
	ErrLifetimeTooLong   = errors.New("verification token lifetime too long")
	ErrNoSigningKey      = errors.New("verification manager has no signing key")
	errUnknownKeyID      = errors.New("unknown kid")
	errInvalidEd25519Key = errors.New("invalid ed25519 key")
)

// Config configures a [Manager]. Keys are raw bytes or PEM for Ed25519.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys, when set, is the only key source for Parse and tokens must
	// name one of its kids.
	VerifyKeys map[string][]byte

	// Now defaults to time.Now. Issue and Parse both read it.
	Now func() time.Time
}

// VerificationClaims asserts that Email passed the PIN challenge. The token
// ID (jti) lets the consumer enforce single use.
type VerificationClaims struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// keyring holds keys decoded once at construction.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	// verify is used when byKID is empty.
	verify any
	byKID  map[string]any
	kid    string
}

// Manager mints and parses the short-lived verification token handed out
// after a successful PIN challenge.
type Manager struct {
	ttl    time.Duration
	keys   keyring
	now    func() time.Time
	parser *jwt.Parser
	issuer string
	aud    string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 || cfg.TTL > MaxTTL {
		return nil, fmt.Errorf("verification TTL must be in (0, %s]", MaxTTL)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("verification leeway must be in [0, %s]", maxLeeway)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys, err := buildKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{
		ttl:    cfg.TTL,
		keys:   keys,
		now:    cfg.Now,
		parser: jwt.NewParser(opts...),
		issuer: cfg.Issuer,
		aud:    cfg.Audience,
	}, nil
}

func buildKeyring(cfg Config) (keyring, error) {
	kr := keyring{kid: strings.TrimSpace(cfg.KeyID)}

	var decode func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACBytes {
			return keyring{}, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACBytes)
		}
		kr.method = jwt.SigningMethodHS256
		kr.sign, kr.verify = cfg.PrivateKey, cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		kr.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return keyring{}, err
			}
			kr.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublicKey(cfg.PublicKey)
			if err != nil {
				return keyring{}, err
			}
			kr.verify = pub
		}
		if kr.verify == nil && len(cfg.VerifyKeys) == 0 {
			return keyring{}, errors.New("ed25519 requires a public key or verify key set")
		}
		decode = func(b []byte) (any, error) { return edPublicKey(b) }
	default:
		return keyring{}, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		kr.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return keyring{}, errors.New("verify key set contains an empty kid")
			}
			key, err := decode(raw)
			if err != nil {
				return keyring{}, fmt.Errorf("verify key %q: %w", kid, err)
			}
			kr.byKID[kid] = key
		}
		if _, ok := kr.byKID[kr.kid]; kr.kid != "" && !ok {
			return keyring{}, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return kr, nil
}

// lookup is the jwt.Keyfunc for Parse.
func (kr keyring) lookup(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kr.byKID != nil {
		key, ok := kr.byKID[kid]
		if !ok {
			return nil, errUnknownKeyID
		}
		return key, nil
	}
	if kr.kid != "" && kid != kr.kid {
		return nil, errUnknownKeyID
	}
	return kr.verify, nil
}

func (j *Manager) TTL() time.Duration { return j.ttl }

// Issue signs a verification token for email.
func (j *Manager) Issue(email string) (string, *VerificationClaims, error) {
	if email == "" {
		return "", nil, ErrMissingSubject
	}
	if j.keys.sign == nil {
		return "", nil, ErrNoSigningKey
	}

	now := j.now()
	claims := &VerificationClaims{
		Email:    email,
		Verified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	if j.aud != "" {
		claims.Audience = jwt.ClaimStrings{j.aud}
	}

	token := jwt.NewWithClaims(j.keys.method, claims)
	if j.keys.kid != "" {
		token.Header["kid"] = j.keys.kid
	}
	signed, err := token.SignedString(j.keys.sign)
	if err != nil {
		return "", nil, fmt.Errorf("sign verification token: %w", err)
	}
	return signed, claims, nil
}

// Parse checks signature, expiry, issuer and audience, then requires a
// verified email and a lifetime no longer than [MaxTTL].
func (j *Manager) Parse(raw string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	if _, err := j.parser.ParseWithClaims(raw, claims, j.keys.lookup); err != nil {
		return nil, err
	}

	switch {
	case !claims.Verified:
		return nil, ErrNotVerified
	case claims.Email == "":
		return nil, ErrMissingSubject
	case claims.IssuedAt != nil && claims.ExpiresAt.Sub(claims.IssuedAt.Time) > MaxTTL:
		return nil, ErrLifetimeTooLong
	}
	return claims, nil
}

func edPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEd25519Key, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errInvalidEd25519Key
	}
	return key, nil
}

func edPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEd25519Key, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errInvalidEd25519Key
	}
	return key, nil
}
