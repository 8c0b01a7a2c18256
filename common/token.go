package common

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyToken = errors.New("token cannot be empty")
	nonTokenChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// Token normalises a client supplied enum value to snake_case, so
// "Missed Installment" and "missed-installment" both read missed_installment.
// An empty input falls back to fallback.
func Token(input, fallback string) (string, error) {
	token := tokenize(input)
	if token == "" {
		token = tokenize(fallback)
	}
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func tokenize(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	token := nonTokenChars.ReplaceAllString(lower, "_")
	return strings.Trim(token, "_")
}
