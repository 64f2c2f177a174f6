package model

import (
	"strings"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
)

const taxIDLength = 14

// NormalizeTaxID strips punctuation from a CNPJ and checks it has 14 digits.
// "12.345.678/0001-95" becomes "12345678000195".
func NormalizeTaxID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '/' || r == '-' || r == ' ':
		default:
			return "", apperr.New(apperr.ErrValidation, "normalize tax id", "unexpected character in "+raw)
		}
	}
	digits := b.String()
	if len(digits) != taxIDLength {
		return "", apperr.New(apperr.ErrValidation, "normalize tax id", "a CNPJ has 14 digits, got "+raw)
	}
	return digits, nil
}
