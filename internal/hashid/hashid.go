// Package hashid derives short deterministic tokens and identifiers from
// SHA-256 digests.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	TokenLength     = 16
	AuthTokenLength = 20

	stampLayout       = "20060102-150405"
	authSecret        = "brmsolutions"
	defaultProcessKey = "TPSM"
)

var ErrEmptyField = errors.New("hashid: required field is empty")

// Token hashes the fields after trimming and lower-casing them. Equal inputs
// give equal tokens.
func Token(fields ...string) string {
	return digest(strings.Join(normalize(fields), "-"), TokenLength)
}

// TimedToken is Token with the second-resolution timestamp of now appended.
func TimedToken(now time.Time, fields ...string) string {
	parts := append(normalize(fields), stamp(now))
	return digest(strings.Join(parts, "-"), TokenLength)
}

// SaltedToken mixes random salts into the fields, so every call differs.
func SaltedToken(fields ...string) string {
	salt := uuid.NewString()
	parts := append(normalize(fields), stamp(time.Now()), strings.ReplaceAll(uuid.NewString(), "-", ""), salt[:8])
	return digest(strings.Join(parts, "-"), TokenLength)
}

// RegistrationHash identifies a registration by its descriptive fields.
func RegistrationHash(fields ...string) string {
	return Token(fields...)
}

// SessionID identifies one run of the process registered under hash.
func SessionID(hash string, now time.Time) string {
	return TimedToken(now, hash)
}

// ProcessID returns a fresh identifier for a process run tagged with keyword.
func ProcessID(keyword string) string {
	if strings.TrimSpace(keyword) == "" {
		keyword = defaultProcessKey
	}
	return SaltedToken(keyword)
}

// CompanyAuthToken derives the authentication hash stored with a company.
// Name and CNPJ are used as given.
func CompanyAuthToken(name, cnpj string, now time.Time) (string, error) {
	if name == "" || cnpj == "" {
		return "", ErrEmptyField
	}
	raw := authSecret + "-" + name + "-" + cnpj + "-" + stamp(now)
	return digest(raw, AuthTokenLength), nil
}

// DedupeKey identifies the content of an outbound message independently of
// payload key order.
func DedupeKey(destination, template string, payload map[string]string) string {
	fields := []string{destination, template}
	for _, k := range slices.Sorted(maps.Keys(payload)) {
		fields = append(fields, k+"="+payload[k])
	}
	return Token(fields...)
}

func normalize(fields []string) []string {
	lower := cases.Lower(language.Und)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = lower.String(strings.TrimSpace(f))
	}
	return out
}

func stamp(t time.Time) string {
	return t.Format(stampLayout)
}

func digest(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
