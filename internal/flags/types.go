package flags

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

var (
	ErrNotFound   = errors.New("flag not found")
	ErrInvalidKey = errors.New("invalid flag key")
)

var protocolRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// Flag switches a detector on or off. Keys are, from most to least specific,
// "<protocol>.<match type>", "<protocol>" or "<match type>".
type Flag struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope is what a flag key covers. An empty field matches everything.
type Scope struct {
	Protocol string
	Type     models.MatchType
}

// ParseKey splits a flag key into its scope. A bare key that names a
// match type covers that detector on every protocol; any other bare key
// is a protocol id.
func ParseKey(key string) (Scope, error) {
	protocol, typ, dotted := strings.Cut(key, ".")
	if !dotted {
		if t := models.MatchType(key); t.Valid() {
			return Scope{Type: t}, nil
		}
		typ = ""
	}
	if !protocolRe.MatchString(protocol) {
		return Scope{}, fmt.Errorf("%w: protocol %q must be lowercase letters, digits and dashes", ErrInvalidKey, protocol)
	}
	s := Scope{Protocol: protocol}
	if dotted {
		s.Type = models.MatchType(typ)
		if !s.Type.Valid() {
			return Scope{}, fmt.Errorf("%w: unknown match type %q", ErrInvalidKey, typ)
		}
	}
	return s, nil
}

func ValidateKey(key string) error {
	_, err := ParseKey(key)
	return err
}

// DetectorKey is the most specific flag key for a detector on a protocol.
func DetectorKey(protocol string, t models.MatchType) string {
	return protocol + "." + string(t)
}
