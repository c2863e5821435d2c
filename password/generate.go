package password

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"

	// DefaultGeneratedLength is used when Generate is called with length <= 0.
	DefaultGeneratedLength = 16

	maxGenerateAttempts = 16
)

// ErrGenerate is returned when no compliant password could be produced.
var ErrGenerate = errors.New("password generation failed")

// Generate returns a random password of at least length runes drawn with
// crypto/rand. When compliant is true, one character of every required
// class is placed first, the result is shuffled and then self-validated;
// failures retry with length+2 up to a fixed number of attempts.
func (e *PolicyEngine) Generate(length int, compliant bool) (string, error) {
	if length <= 0 {
		length = DefaultGeneratedLength
	}
	length = max(length, e.policy.MinLength)

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate, err := e.generateOnce(min(length, e.policy.MaxLength), compliant)
		if err != nil {
			return "", err
		}
		if !compliant {
			return candidate, nil
		}
		if ok, _ := e.Validate(candidate, ""); ok {
			return candidate, nil
		}
		length += 2
	}

	return "", ErrGenerate
}

func (e *PolicyEngine) generateOnce(length int, compliant bool) (string, error) {
	p := e.policy
	chars := make([]byte, 0, length)

	pick := func(set string) error {
		c, err := randomChar(set)
		if err != nil {
			return err
		}
		chars = append(chars, c)
		return nil
	}

	if compliant {
		var required []string
		if p.RequireLowercase {
			required = append(required, lowercaseChars)
		}
		if p.RequireUppercase {
			required = append(required, uppercaseChars)
		}
		if p.RequireDigit {
			required = append(required, digitChars)
		}
		if p.RequireSpecial {
			for i := 0; i < p.MinSpecial; i++ {
				required = append(required, p.SpecialChars)
			}
		}
		for _, set := range required {
			if err := pick(set); err != nil {
				return "", err
			}
		}
	}

	all := lowercaseChars + uppercaseChars + digitChars + p.SpecialChars
	for len(chars) < length {
		if err := pick(all); err != nil {
			return "", err
		}
	}

	if err := shuffle(chars); err != nil {
		return "", err
	}
	return string(chars), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// randomChar assumes set is ASCII; Policy.Validate enforces it for
// SpecialChars.
func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
