// Package sepa validates SEPA account data and renders direct-debit export files.
package sepa

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"dojo-backend/internal/apperr"
)

var (
	ibanShape = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
	bicShape  = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
)

// NormalizeIBAN strips spaces and upper-cases.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

// ValidateIBAN checks shape and the ISO 13616 mod-97 checksum.
func ValidateIBAN(iban string) error {
	iban = NormalizeIBAN(iban)
	if !ibanShape.MatchString(iban) {
		return apperr.Validation("iban", "malformed IBAN")
	}
	rearranged := iban[4:] + iban[:4]

	var digits strings.Builder
	for _, r := range rearranged {
		if r >= 'A' && r <= 'Z' {
			digits.WriteString(strconv.Itoa(int(r-'A') + 10))
			continue
		}
		digits.WriteRune(r)
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok || new(big.Int).Mod(n, big.NewInt(97)).Int64() != 1 {
		return apperr.Validation("iban", "IBAN checksum mismatch")
	}
	return nil
}

// ValidateBIC accepts 8 or 11 character BICs. Empty is allowed for domestic debits.
func ValidateBIC(bic string) error {
	bic = strings.ToUpper(strings.TrimSpace(bic))
	if bic == "" {
		return nil
	}
	if !bicShape.MatchString(bic) {
		return apperr.Validation("bic", "malformed BIC")
	}
	return nil
}
