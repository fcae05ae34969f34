// Package validation checks and normalizes the values a participant types in.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/m3rciful/drawbot/internal/apperr"
)

// DefaultDocumentLength is the receipt number length used when none is configured.
const DefaultDocumentLength = 5

// User-facing rejection messages.
const (
	MsgFullName = `Вы не верно ввели ФИО, введите в формате "Иванов Иван Иванович"`
	MsgPhone    = `Вы не верно ввели номер телефона, введите в формате "79180000025"`
	MsgHandle   = `Вы не корректно ввели аккаунт инстаграмма, введите в формате "@...."`
)

var (
	fullNameRe = regexp.MustCompile(`^[А-ЯЁ][а-яё]+(?:[\s\-][А-ЯЁ][а-яё]+){2,}$`)
	phoneRe    = regexp.MustCompile(`^[78]?9\d{9}$`)
	handleRe   = regexp.MustCompile(`^@?([a-zA-Z0-9._\-]{5,16})$`)
)

// Rejection is a refused input together with the message shown to the user.
type Rejection struct {
	Rule    string
	Message string
}

func (r *Rejection) Error() string { return r.Rule + ": " + r.Message }

// Outcome is the result of a rule: a normalized value, or a rejection.
type Outcome struct {
	Value     string
	Rejection *Rejection
}

// OK reports whether the input was accepted.
func (o Outcome) OK() bool { return o.Rejection == nil }

// Err returns the rejection as an apperr validation error, or nil.
func (o Outcome) Err() error {
	if o.Rejection == nil {
		return nil
	}
	return apperr.New(apperr.KindValidation, "validate."+o.Rejection.Rule, o.Rejection)
}

// Rule validates one kind of input.
type Rule func(input string) Outcome

func accept(v string) Outcome { return Outcome{Value: v} }

func reject(rule, msg string) Outcome {
	return Outcome{Rejection: &Rejection{Rule: rule, Message: msg}}
}

// DocumentNumber accepts exactly length ASCII digits. A non-positive length
// falls back to DefaultDocumentLength.
func DocumentNumber(length int) Rule {
	if length <= 0 {
		length = DefaultDocumentLength
	}
	msg := fmt.Sprintf("Вы ввели не корректный номер, введите %d числовых символов", length)
	return func(input string) Outcome {
		s := strings.TrimSpace(input)
		if len(s) != length {
			return reject("document", msg)
		}
		for i := 0; i < len(s); i++ {
			if s[i] < '0' || s[i] > '9' {
				return reject("document", msg)
			}
		}
		return accept(s)
	}
}

// FullName accepts at least three capitalized Cyrillic words joined by a
// space or a hyphen. The value is stored lower-cased.
func FullName(input string) Outcome {
	s := strings.TrimSpace(input)
	if !fullNameRe.MatchString(s) {
		return reject("full_name", MsgFullName)
	}
	return accept(strings.ToLower(s))
}

// Phone accepts a Russian mobile number with an optional 7 or 8 prefix.
func Phone(input string) Outcome {
	s := strings.TrimSpace(input)
	if !phoneRe.MatchString(s) {
		return reject("phone", MsgPhone)
	}
	return accept(s)
}

// Handle accepts an Instagram account name with or without the leading @
// and normalizes it to "@name".
func Handle(input string) Outcome {
	m := handleRe.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return reject("handle", MsgHandle)
	}
	return accept("@" + m[1])
}
