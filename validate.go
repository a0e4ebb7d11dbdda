package authgate

import (
	"net/mail"
	"strings"
	"unicode"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	maxEmailLen    = 254
)

// validateRegistration checks input shape before any hashing or storage work.
// It returns nil or a *ValidationError listing every failed field.
func validateRegistration(email, password string) error {
	var fields []FieldError

	if f := checkEmail(email); f != nil {
		fields = append(fields, *f)
	}
	fields = append(fields, checkPassword(password)...)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkEmail(email string) *FieldError {
	if email == "" {
		return &FieldError{Field: "email", Message: "required"}
	}
	if len(email) > maxEmailLen {
		return &FieldError{Field: "email", Message: "too long"}
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &FieldError{Field: "email", Message: "not a valid address"}
	}
	return nil
}

func checkPassword(password string) []FieldError {
	var fields []FieldError

	if len(password) < minPasswordLen {
		fields = append(fields, FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(password) > maxPasswordLen {
		fields = append(fields, FieldError{Field: "password", Message: "must be at most 128 characters"})
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
		fields = append(fields, FieldError{Field: "password", Message: "must contain an uppercase letter"})
	}
	if !lower {
		fields = append(fields, FieldError{Field: "password", Message: "must contain a lowercase letter"})
	}
	if !digit {
		fields = append(fields, FieldError{Field: "password", Message: "must contain a digit"})
	}

	return fields
}

// normalizeEmail canonicalizes the login/registration identifier. Matching is
// case-insensitive on the full address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
