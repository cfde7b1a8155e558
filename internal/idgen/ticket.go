// Package idgen mints the portal's human-readable identifiers: public ticket
// codes for reports and date-bucketed run-numbered codes for physical assets.
package idgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

var (
	ErrExhaustedSequence = errors.New("asset sequence exhausted")
	ErrInvalidCategory   = errors.New("invalid category")
)

// Crockford base32: no I, L, O or U, so codes survive being read over the phone.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const ticketRandomLen = 8

var ticketPrefixes = map[string]string{
	"repair":  "RP",
	"request": "RQ",
	"general": "GN",
}

var ticketCodeRe = regexp.MustCompile(`^(RP|RQ|GN)-[0-9]{6}-[0-9A-HJKMNP-TV-Z]{8}$`)

// TicketPrefix returns the two-letter prefix for a report category.
func TicketPrefix(category string) (string, bool) {
	p, ok := ticketPrefixes[category]
	return p, ok
}

// ValidTicketCode reports whether s has the shape of a ticket code.
func ValidTicketCode(s string) bool {
	return ticketCodeRe.MatchString(s)
}

// TicketCodes produces codes of the form RP-240110-7KQ3ZD9M. The date stamp
// keeps codes traceable; the 40-bit random tail keeps them unguessable and
// unlinkable to each other. Uniqueness is finally enforced by the store.
type TicketCodes struct {
	Now      func() time.Time
	Location *time.Location
	Random   io.Reader
}

func NewTicketCodes(loc *time.Location) *TicketCodes {
	if loc == nil {
		loc = time.UTC
	}
	return &TicketCodes{Now: time.Now, Location: loc, Random: rand.Reader}
}

func (g *TicketCodes) Generate(category string) (string, error) {
	prefix, ok := TicketPrefix(category)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	buf := make([]byte, ticketRandomLen)
	if _, err := io.ReadFull(g.Random, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, g.Now().In(g.Location).Format("060102"), buf), nil
}
