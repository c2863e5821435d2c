package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2ID              = "argon2id"

	// DefaultMaxPasswordBytes bounds the plaintext fed into the KDF when
	// Argon2Params.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

// Argon2Params holds the cost parameters of the strong variant.
//
// Memory is expressed in KiB, matching the m= field of the PHC string.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxPasswordBytes int
}

// DefaultArgon2Params returns the OWASP minimum profile: t=3, m=64MiB, p=1,
// 16-byte salt and 32-byte output.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies PHC-encoded argon2id strings.
//
// An Argon2 is immutable after construction and safe for concurrent use.
type Argon2 struct {
	params   Argon2Params
	maxBytes int
}

type parsedPHC struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

// NewArgon2 validates params and returns a hasher for them.
func NewArgon2(params Argon2Params) (*Argon2, error) {
	if err := validateArgon2Params(params); err != nil {
		return nil, err
	}

	maxBytes := params.MaxPasswordBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPasswordBytes
	}

	return &Argon2{params: params, maxBytes: maxBytes}, nil
}

// Params returns the parameters new hashes are produced with.
func (a *Argon2) Params() Argon2Params {
	return a.params
}

// Hash returns the PHC encoding of password:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
func (a *Argon2) Hash(password string) (string, error) {
	// Raw bytes, no Unicode normalization.
	if len(password) > a.maxBytes {
		return "", fmt.Errorf("password exceeds %d bytes", a.maxBytes)
	}

	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		a.params.Time,
		a.params.Memory,
		a.params.Parallelism,
		a.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		a.params.Memory,
		a.params.Time,
		a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verify checks password against an already parsed PHC string.
// Passwords over the byte cap never match.
func (a *Argon2) verify(password string, parsed *parsedPHC) bool {
	if len(password) > a.maxBytes {
		return false
	}
	return verifyParsed(password, parsed)
}

func verifyParsed(password string, parsed *parsedPHC) bool {
	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.params.Time,
		parsed.params.Memory,
		parsed.params.Parallelism,
		parsed.params.KeyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
}

// weakerThan reports whether p was produced with any cost below current.
func (p Argon2Params) weakerThan(current Argon2Params) bool {
	switch {
	case p.Memory < current.Memory:
		return true
	case p.Time < current.Time:
		return true
	case p.Parallelism < current.Parallelism:
		return true
	case p.KeyLength < current.KeyLength:
		return true
	case p.SaltLength < current.SaltLength:
		return true
	}
	return false
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2ID {
		return nil, errors.New("unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := decodeB64(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(hash))

	return &parsedPHC{params: params, salt: salt, hash: hash}, nil
}

// decodeB64 accepts both padded and unpadded standard base64; hashes
// written by other argon2 implementations differ on padding.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func parseParams(part string) (Argon2Params, error) {
	var (
		params                             Argon2Params
		memorySet, timeSet, parallelismSet bool
	)

	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return params, errors.New("invalid parameter format")
	}

	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return params, errors.New("invalid parameter entry")
		}

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return params, errors.New("invalid memory parameter")
			}
			params.Memory = uint32(n)
			memorySet = true
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return params, errors.New("invalid time parameter")
			}
			params.Time = uint32(n)
			timeSet = true
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return params, errors.New("invalid parallelism parameter")
			}
			params.Parallelism = uint8(n)
			parallelismSet = true
		default:
			return params, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return params, errors.New("missing parameters")
	}

	return params, nil
}

func validateArgon2Params(p Argon2Params) error {
	if p.Memory < minMemoryKB {
		return errors.New("argon2 memory must be >= 8192 KiB")
	}
	if p.Time < minTimeCost {
		return errors.New("argon2 time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("argon2 parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("argon2 salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("argon2 key length must be >= 16")
	}
	if p.MaxPasswordBytes < 0 {
		return errors.New("argon2 max password bytes must be >= 0")
	}

	return nil
}
