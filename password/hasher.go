package password

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrHashing is returned when the underlying KDF fails to produce a hash.
var ErrHashing = errors.New("password hashing failed")

// Algorithm identifies the variant of a stored hash.
type Algorithm uint8

const (
	// AlgorithmLegacy is an untagged hash, verified as bcrypt.
	AlgorithmLegacy Algorithm = iota
	// AlgorithmArgon2id is the strong default.
	AlgorithmArgon2id
	// AlgorithmBcrypt is an explicitly tagged bcrypt hash.
	AlgorithmBcrypt
)

// Storage tags prefixed to every hash produced by a Hasher.
const (
	TagArgon2id = "argon2id:"
	TagBcrypt   = "bcrypt:"
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmArgon2id:
		return "argon2id"
	case AlgorithmBcrypt:
		return "bcrypt"
	default:
		return "legacy"
	}
}

// Scheme is a stored hash decoded once into its variant.
//
// Decode never fails; a hash that cannot be parsed yields a Scheme whose
// Err is set, and verification against it always returns false.
type Scheme struct {
	Algorithm  Algorithm
	Argon2     Argon2Params
	BcryptCost int
	Err        error

	digest string
	phc    *parsedPHC
}

// Decode splits the storage tag off stored and parses the remainder.
func Decode(stored string) Scheme {
	switch {
	case strings.HasPrefix(stored, TagArgon2id):
		digest := strings.TrimPrefix(stored, TagArgon2id)
		s := Scheme{Algorithm: AlgorithmArgon2id, digest: digest}
		phc, err := parsePHC(digest)
		if err != nil {
			s.Err = err
			return s
		}
		s.phc = phc
		s.Argon2 = phc.params
		return s
	case strings.HasPrefix(stored, TagBcrypt):
		return decodeBcrypt(AlgorithmBcrypt, strings.TrimPrefix(stored, TagBcrypt))
	default:
		return decodeBcrypt(AlgorithmLegacy, stored)
	}
}

func decodeBcrypt(alg Algorithm, digest string) Scheme {
	s := Scheme{Algorithm: alg, digest: digest}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		s.Err = err
		return s
	}
	s.BcryptCost = cost
	return s
}

// HasherConfig configures a Hasher.
type HasherConfig struct {
	Argon2     Argon2Params
	BcryptCost int
}

// Hasher produces tagged hashes and verifies any supported variant.
//
// Rehashing is never performed inside Verify; callers persist a fresh
// Hash after a successful verification when NeedsRehash reports true.
type Hasher struct {
	argon      *Argon2
	bcryptCost int

	dummyOnce sync.Once
	dummy     *parsedPHC
}

// NewHasher validates cfg and builds a Hasher.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	argon, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return &Hasher{argon: argon, bcryptCost: cost}, nil
}

// Hash hashes password with the strong default variant.
func (h *Hasher) Hash(password string) (string, error) {
	return h.HashWith(password, AlgorithmArgon2id)
}

// HashWith hashes password with the given variant. AlgorithmLegacy
// produces an untagged bcrypt hash and exists for migration fixtures.
func (h *Hasher) HashWith(password string, alg Algorithm) (string, error) {
	switch alg {
	case AlgorithmArgon2id:
		digest, err := h.argon.Hash(password)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrHashing, err)
		}
		return TagArgon2id + digest, nil
	case AlgorithmBcrypt, AlgorithmLegacy:
		digest, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrHashing, err)
		}
		if alg == AlgorithmLegacy {
			return string(digest), nil
		}
		return TagBcrypt + string(digest), nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %d", ErrHashing, alg)
	}
}

// Verify reports whether password matches stored. It never returns an
// error; malformed hashes simply do not match.
func (h *Hasher) Verify(password, stored string) bool {
	return h.VerifyScheme(password, Decode(stored))
}

// VerifyScheme verifies password against an already decoded hash.
func (h *Hasher) VerifyScheme(password string, s Scheme) bool {
	if s.Err != nil {
		return false
	}

	switch s.Algorithm {
	case AlgorithmArgon2id:
		return h.argon.verify(password, s.phc)
	case AlgorithmBcrypt, AlgorithmLegacy:
		return bcrypt.CompareHashAndPassword([]byte(s.digest), []byte(password)) == nil
	default:
		return false
	}
}

// NeedsRehash is true for bcrypt and untagged hashes, for argon2id hashes
// with weaker parameters than the configured ones, and for anything that
// fails to decode.
func (h *Hasher) NeedsRehash(stored string) bool {
	return h.SchemeNeedsRehash(Decode(stored))
}

// SchemeNeedsRehash is NeedsRehash over a decoded hash.
func (h *Hasher) SchemeNeedsRehash(s Scheme) bool {
	if s.Err != nil {
		return true
	}
	if s.Algorithm != AlgorithmArgon2id {
		return true
	}
	return s.Argon2.weakerThan(h.argon.params)
}

// DummyVerify spends the same work as verifying against a current-profile
// hash. Used on paths that must not be distinguishable by latency.
func (h *Hasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		digest, err := h.argon.Hash("dummy-password-for-timing")
		if err != nil {
			return
		}
		h.dummy, _ = parsePHC(digest)
	})
	if h.dummy == nil || len(password) > h.argon.maxBytes {
		return
	}
	_ = verifyParsed(password, h.dummy)
}

// Params returns the argon2id parameters new hashes use.
func (h *Hasher) Params() Argon2Params {
	return h.argon.params
}
