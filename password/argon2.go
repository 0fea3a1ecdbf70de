package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

const phcPrefix = "$argon2id$"

// Floors enforced on both Config and stored hashes.
const (
	floorMemoryKB    = 8 * 1024
	floorTime        = 1
	floorParallelism = 1
	floorSaltBytes   = 16
	floorKeyBytes    = 16
)

var (
	// ErrUnsupportedHash means the stored hash is neither Argon2id nor bcrypt.
	ErrUnsupportedHash = errors.New("unsupported password hash format")
	// ErrMalformedHash wraps every parse failure of an Argon2id PHC string.
	ErrMalformedHash   = errors.New("malformed argon2id hash")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	ErrEmptyPassword   = errors.New("password must not be empty")
)

var b64 = base64.StdEncoding

// Config holds the Argon2id cost parameters for new hashes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxPasswordBytes int
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", floorMemoryKB)
	case c.Time < floorTime:
		return errors.New("password time must be >= 1")
	case c.Parallelism < floorParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("password salt length must be >= %d", floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("password key length must be >= %d", floorKeyBytes)
	}
	return nil
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version, p.memory, p.time, p.parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func (p phc) derive(pw string) []byte {
	return argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

// Hasher writes Argon2id hashes and reads Argon2id and bcrypt ones. Raw
// password bytes are hashed as given, without Unicode normalization.
type Hasher struct {
	cfg Config
}

func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash returns an Argon2id PHC string for pw.
func (h *Hasher) Hash(pw string) (string, error) {
	if pw == "" {
		return "", ErrEmptyPassword
	}
	if len(pw) > h.cfg.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	p := phc{
		memory:      h.cfg.Memory,
		time:        h.cfg.Time,
		parallelism: h.cfg.Parallelism,
		salt:        salt,
		key:         make([]byte, h.cfg.KeyLength),
	}
	p.key = p.derive(pw)
	return p.String(), nil
}

// Verify reports whether pw matches encoded. A hash that cannot be parsed is
// an error, never a match.
func (h *Hasher) Verify(pw, encoded string) (bool, error) {
	if len(pw) > h.cfg.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}

	if isBcrypt(encoded) {
		switch err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(pw)); {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}

	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(pw), p.key) == 1, nil
}

// NeedsRehash is true for bcrypt hashes and for Argon2id hashes whose cost is
// below the current Config or whose key length differs from it.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := p.memory < h.cfg.Memory || p.time < h.cfg.Time || p.parallelism < h.cfg.Parallelism
	return weaker || uint32(len(p.key)) != h.cfg.KeyLength, nil
}

func isBcrypt(encoded string) bool {
	for _, prefix := range [...]string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

func parsePHC(encoded string) (phc, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return phc{}, ErrUnsupportedHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return phc{}, fmt.Errorf("%w: want 4 sections, got %d", ErrMalformedHash, len(fields))
	}

	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[0])
	}

	var p phc
	if err := p.parseParams(fields[1]); err != nil {
		return phc{}, err
	}

	var err error
	if p.salt, err = b64.DecodeString(fields[2]); err != nil || len(p.salt) < floorSaltBytes {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = b64.DecodeString(fields[3]); err != nil || len(p.key) == 0 {
		return phc{}, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}

// parseParams reads "m=..,t=..,p=.." in any order; each must appear once.
func (p *phc) parseParams(s string) error {
	seen := map[string]bool{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || seen[k] {
			return fmt.Errorf("%w: params %q", ErrMalformedHash, s)
		}
		seen[k] = true

		var bits int
		var floor uint64
		switch k {
		case "m":
			bits, floor = 32, floorMemoryKB
		case "t":
			bits, floor = 32, floorTime
		case "p":
			bits, floor = 8, floorParallelism
		default:
			return fmt.Errorf("%w: unknown param %q", ErrMalformedHash, k)
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil || n < floor {
			return fmt.Errorf("%w: param %s=%q", ErrMalformedHash, k, v)
		}
		switch k {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			p.parallelism = uint8(n)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: params %q", ErrMalformedHash, s)
	}
	return nil
}
