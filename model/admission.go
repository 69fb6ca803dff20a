package model

import (
	"fmt"
	"strings"
)

// AdmissionKey addresses one sliding window
type AdmissionKey struct {
	Identity string
	Limiter  string
}

// String encodes the key as "<limiter>:<identity>".
func (k AdmissionKey) String() string {
	return k.Limiter + ":" + k.Identity
}

// ParseAdmissionKey reverses AdmissionKey.String. Limiter names never contain
// a colon, identities may.
func ParseAdmissionKey(s string) (AdmissionKey, error) {
	limiter, identity, ok := strings.Cut(s, ":")
	if !ok || limiter == "" || identity == "" {
		return AdmissionKey{}, fmt.Errorf("invalid admission key %q", s)
	}
	return AdmissionKey{Identity: identity, Limiter: limiter}, nil
}
