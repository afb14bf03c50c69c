// Package forms validates sign-up and sign-in input before it is sent.
package forms

import (
	"net/mail"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"portal/cmd/internal/authapi"
)

// Field names.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldPassword = "password"
)

// Messages shown next to a rejected field.
const (
	MsgEmail        = "Enter a valid email"
	MsgMin2         = "Min 2 characters"
	MsgMax40        = "Max 40 characters"
	MsgMin8         = "Min 8 characters"
	MsgMax72        = "Max 72 characters"
	MsgPasswordMix  = "Must include uppercase, lowercase, and a number"
	usernameMinLen  = 2
	usernameMaxLen  = 40
	passwordMinLen  = 8
	passwordMaxLen  = 72
)

// Errors maps a field name to the first message for that field.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return strings.Join(parts, "; ")
}

// Field returns the message for field, or "".
func (e Errors) Field(field string) string { return e[field] }

func (e Errors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidateRegister checks registration input. It returns nil or Errors.
func ValidateRegister(in authapi.RegisterInput) error {
	errs := Errors{}
	if !validEmail(in.Email) {
		errs[FieldEmail] = MsgEmail
	}
	switch n := utf8.RuneCountInString(in.Username); {
	case n < usernameMinLen:
		errs[FieldUsername] = MsgMin2
	case n > usernameMaxLen:
		errs[FieldUsername] = MsgMax40
	}
	if msg := passwordLength(in.Password); msg != "" {
		errs[FieldPassword] = msg
	} else if !passwordMix(in.Password) {
		errs[FieldPassword] = MsgPasswordMix
	}
	return errs.orNil()
}

// ValidateLogin checks sign-in input. It returns nil or Errors.
func ValidateLogin(in authapi.LoginInput) error {
	errs := Errors{}
	if !validEmail(in.Email) {
		errs[FieldEmail] = MsgEmail
	}
	if msg := passwordLength(in.Password); msg != "" {
		errs[FieldPassword] = msg
	}
	return errs.orNil()
}

func passwordLength(p string) string {
	switch n := utf8.RuneCountInString(p); {
	case n < passwordMinLen:
		return MsgMin8
	case n > passwordMaxLen:
		return MsgMax72
	default:
		return ""
	}
}

func passwordMix(p string) bool {
	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return lower && upper && digit
}

// validEmail accepts a bare addr-spec whose domain has a dotted label of at
// least two letters. Display names and angle brackets are rejected.
func validEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	if !ok {
		return false
	}
	i := strings.LastIndexByte(domain, '.')
	if i <= 0 {
		return false
	}
	tld := domain[i+1:]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
