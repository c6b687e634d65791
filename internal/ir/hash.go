package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainPayload = "programhealth/payload/v1"
	DomainInputs  = "programhealth/inputs/v1"
	DomainImpact  = "programhealth/m3-impact/v1"
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

// PayloadDigest computes the digest stored with each canonical event.
// Two payloads with the same canonical form share a digest, which is what
// resubmission compares.
func PayloadDigest(payload map[string]any) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// InputsHash computes a deterministic digest of evaluation inputs. Producers
// that do not compute their own inputs hash can use this.
func InputsHash(inputs any) (string, error) {
	canonical, err := MarshalCanonical(inputs)
	if err != nil {
		return "", fmt.Errorf("InputsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainInputs, canonical), nil
}

// ImpactInputsHash computes the inputs hash of an M3 impact record. It uses
// its own domain so an impact can never share a digest with an emission's
// inputs.
func ImpactInputsHash(inputs any) (string, error) {
	canonical, err := MarshalCanonical(inputs)
	if err != nil {
		return "", fmt.Errorf("ImpactInputsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainImpact, canonical), nil
}

// MustPayloadDigest is like PayloadDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayloadDigest(payload map[string]any) string {
	d, err := PayloadDigest(payload)
	if err != nil {
		panic(err)
	}
	return d
}

// MustInputsHash is like InputsHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustInputsHash(inputs any) string {
	h, err := InputsHash(inputs)
	if err != nil {
		panic(err)
	}
	return h
}

// MustImpactInputsHash is like ImpactInputsHash but panics on error.
func MustImpactInputsHash(inputs any) string {
	h, err := ImpactInputsHash(inputs)
	if err != nil {
		panic(err)
	}
	return h
}
