package invoice

import (
	"strings"
	"time"
)

const numberSuffixLen = 10

// Number derives the customer-facing invoice number from the invoice id and the
// instant it was issued, e.g. INV-20260301-3F2A9C01B7.
func Number(id string, issuedAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > numberSuffixLen {
		suffix = suffix[:numberSuffixLen]
	}
	return "INV-" + issuedAt.UTC().Format("20060102") + "-" + suffix
}
