// Package credential hashes and checks actor passwords and validates login identifiers.
package credential

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	maxEmailLength    = 254
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordBytes = 72
)

var (
	ErrMismatch = errors.New("credentials do not match")

	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Cost is the bcrypt work factor. Tests lower it to bcrypt.MinCost.
var Cost = bcrypt.DefaultCost

func Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns ErrMismatch when password does not produce hash.
func Compare(hash, password string) error {
	if hash == "" {
		return ErrMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return err
	}
	return nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail expects an already normalized address.
func ValidateEmail(email string) error {
	switch {
	case email == "":
		return errors.New("email is required")
	case len(email) > maxEmailLength:
		return errors.New("email is too long")
	case !emailPattern.MatchString(email):
		return errors.New("email format is invalid")
	}
	return nil
}

// ValidatePassword enforces the strength policy: a minimum length plus at
// least one upper-case letter, one lower-case letter and one digit.
func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	if len(password) > maxPasswordBytes {
		return errors.New("password must be at most 72 bytes")
	}
	var problems []string
	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, "at least 8 characters")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		problems = append(problems, "an upper-case letter")
	}
	if !lower {
		problems = append(problems, "a lower-case letter")
	}
	if !digit {
		problems = append(problems, "a digit")
	}
	if len(problems) > 0 {
		return errors.New("password needs " + strings.Join(problems, ", "))
	}
	return nil
}
