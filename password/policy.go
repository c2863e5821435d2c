package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSpecialChars is the set of runes counted as special characters.
const DefaultSpecialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?~`"

var commonPatterns = []string{
	"password", "admin", "login", "welcome", "secret",
	"123456", "qwerty", "abc123", "password1", "admin123",
	"111111", "123123", "welcome1", "password!", "admin!",
	"letmein", "monkey", "dragon", "sunshine", "princess",
}

// sequentialRuns are rejected forwards and reversed.
var sequentialRuns = []string{
	"123", "234", "345", "456", "567", "678", "789", "890",
	"abc", "bcd", "cde", "def", "efg", "fgh", "ghi", "hij",
}

// Policy holds the composition rules a new password must satisfy.
// Lengths count Unicode code points.
type Policy struct {
	MinLength int
	MaxLength int

	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
	MinSpecial       int
	SpecialChars     string

	// MinComplexity is compared against ComplexityScore (0-5).
	MinComplexity int

	RejectUsername       bool
	RejectCommonPatterns bool
}

// DefaultPolicy returns the baseline policy: 8..128 characters, every
// character class required, one special character, complexity 3.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:            8,
		MaxLength:            128,
		RequireUppercase:     true,
		RequireLowercase:     true,
		RequireDigit:         true,
		RequireSpecial:       true,
		MinSpecial:           1,
		SpecialChars:         DefaultSpecialChars,
		MinComplexity:        3,
		RejectUsername:       true,
		RejectCommonPatterns: true,
	}
}

// Validate checks the policy itself for internal consistency.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("policy min length must be >= 1")
	}
	if p.MaxLength < p.MinLength {
		return errors.New("policy max length must be >= min length")
	}
	if p.RequireSpecial {
		if p.MinSpecial < 1 {
			return errors.New("policy min special must be >= 1 when special characters are required")
		}
		if p.SpecialChars == "" {
			return errors.New("policy special characters must not be empty")
		}
	}
	for i := 0; i < len(p.SpecialChars); i++ {
		if p.SpecialChars[i] >= utf8.RuneSelf {
			return errors.New("policy special characters must be ASCII")
		}
	}
	if p.MinComplexity < 0 || p.MinComplexity > 5 {
		return errors.New("policy min complexity must be within [0,5]")
	}

	required := 0
	for _, on := range []bool{p.RequireUppercase, p.RequireLowercase, p.RequireDigit} {
		if on {
			required++
		}
	}
	if p.RequireSpecial {
		required += p.MinSpecial
	}
	if required > p.MaxLength {
		return errors.New("policy requires more characters than max length allows")
	}

	return nil
}

// PolicyEngine validates and generates passwords under a Policy.
// It holds no mutable state.
type PolicyEngine struct {
	policy Policy
}

// NewPolicyEngine returns an engine for p after validating it.
func NewPolicyEngine(p Policy) (*PolicyEngine, error) {
	if p.SpecialChars == "" {
		p.SpecialChars = DefaultSpecialChars
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PolicyEngine{policy: p}, nil
}

// Policy returns the engine's policy.
func (e *PolicyEngine) Policy() Policy {
	return e.policy
}

type charClasses struct {
	upper, lower, digit bool
	special             int
}

func (e *PolicyEngine) classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		}
		if strings.ContainsRune(e.policy.SpecialChars, r) {
			c.special++
		}
	}
	return c
}

// Validate returns every rule password violates. ok is true only when the
// list is empty. username may be empty.
func (e *PolicyEngine) Validate(password, username string) (bool, []string) {
	p := e.policy
	var violations []string

	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}
	if n > p.MaxLength {
		violations = append(violations, fmt.Sprintf("Password must be no more than %d characters long", p.MaxLength))
	}

	classes := e.classify(password)
	if p.RequireUppercase && !classes.upper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !classes.lower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !classes.digit {
		violations = append(violations, "Password must contain at least one number")
	}
	if p.RequireSpecial && classes.special < p.MinSpecial {
		violations = append(violations, fmt.Sprintf("Password must contain at least %d special characters", p.MinSpecial))
	}

	if score := e.ComplexityScore(password); score < p.MinComplexity {
		violations = append(violations, fmt.Sprintf("Password complexity score (%d) below minimum (%d)", score, p.MinComplexity))
	}

	if p.RejectUsername && containsUsername(password, username) {
		violations = append(violations, "Password must not contain username")
	}
	if p.RejectCommonPatterns && containsCommonPattern(password) {
		violations = append(violations, "Password contains common patterns or dictionary words")
	}

	return len(violations) == 0, violations
}

// ComplexityScore is one point for length >= 12 plus one per character
// class present, capped at 5.
func (e *PolicyEngine) ComplexityScore(password string) int {
	score := 0
	if utf8.RuneCountInString(password) >= 12 {
		score++
	}

	c := e.classify(password)
	for _, present := range []bool{c.upper, c.lower, c.digit, c.special > 0} {
		if present {
			score++
		}
	}

	return min(score, 5)
}

func containsUsername(password, username string) bool {
	if utf8.RuneCountInString(username) < 3 {
		return false
	}
	return strings.Contains(strings.ToLower(password), strings.ToLower(username))
}

func containsCommonPattern(password string) bool {
	lower := strings.ToLower(password)

	for _, pattern := range commonPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	for _, run := range sequentialRuns {
		if strings.Contains(lower, run) || strings.Contains(lower, reverse(run)) {
			return true
		}
	}

	distinct := make(map[rune]struct{}, len(password))
	n := 0
	for _, r := range password {
		distinct[r] = struct{}{}
		n++
	}
	return len(distinct) < n/2
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
