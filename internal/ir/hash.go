package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for a
// future change of algorithm.
const (
	DomainRule = "satisfy/rule/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RuleHash computes the content hash of a rule: id, ordered conditions and
// payload. Two rules with the same hash are interchangeable, which is what
// lets the engine keep a handler tree alive across SetRules calls.
func RuleHash(r Rule) (string, error) {
	canonical, err := marshalCanonical(r.ToObject())
	if err != nil {
		return "", fmt.Errorf("RuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// MustRuleHash is like RuleHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRuleHash(r Rule) string {
	h, err := RuleHash(r)
	if err != nil {
		panic(err)
	}
	return h
}
