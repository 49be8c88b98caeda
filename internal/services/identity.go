package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StudentNumberLength is the digit count of a valid institutional number.
const StudentNumberLength = 8

// NormalizeStudentNumber strips everything but digits and requires
// exactly StudentNumberLength of them.
func NormalizeStudentNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) != StudentNumberLength {
		return "", NewInvalidError(fmt.Sprintf("student number %q must have %d digits", raw, StudentNumberLength))
	}
	return digits, nil
}

// DeriveParticipantID returns the identifier for a student number. The
// same input always yields the same identifier.
func DeriveParticipantID(studentNumber string) (string, error) {
	return NormalizeStudentNumber(studentNumber)
}

// RandomParticipantID builds "{eventCode}-{6 upper hex}" for
// participants without a student number.
func RandomParticipantID(eventCode string) string {
	token := strings.ToUpper(shortID(6))
	if eventCode == "" {
		return token
	}
	return eventCode + "-" + token
}

// DeriveEmail is the institutional address for a student number.
func DeriveEmail(studentNumber, domain string) string {
	return studentNumber + "@" + strings.TrimPrefix(domain, "@")
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t,")
}

// RepairEmail collapses a repeated institutional suffix such as
// "12345678@uni.ac.za@uni.ac.za". It reports whether anything changed.
func RepairEmail(email, domain string) (string, bool) {
	suffix := "@" + strings.TrimPrefix(domain, "@")
	doubled := suffix + suffix
	if domain == "" || !strings.Contains(email, doubled) {
		return email, false
	}
	fixed := email
	for strings.Contains(fixed, doubled) {
		fixed = strings.ReplaceAll(fixed, doubled, suffix)
	}
	return fixed, true
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
