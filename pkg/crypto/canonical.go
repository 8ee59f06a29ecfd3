package crypto

import (
	"fmt"

	"github.com/gowebpki/jcs"

	"encoding/json"
)

// CanonicalJSON serialises v into RFC 8785 JSON Canonicalization Scheme
// bytes: object keys sorted lexicographically, no insignificant
// whitespace, numbers in their shortest round-tripping form. v is
// marshalled with the standard library first (so struct tags and
// omitempty are honoured) and then transformed by jcs, the
// canonicalization library; every store/signing boundary that needs a
// deterministic byte representation goes through this function rather
// than encoding/json directly.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalization failed: %w", err)
	}
	return out, nil
}

// MustCanonicalJSON panics on encode failure. Reserved for values whose
// shape is controlled by this package (signing strings built from
// plain structs), never for request-supplied data.
func MustCanonicalJSON(v interface{}) []byte {
	out, err := CanonicalJSON(v)
	if err != nil {
		panic(err)
	}
	return out
}

// Signature string separators shared by every signing-string builder
// in this package.
const (
	SigSeparator = "|"
	SchemeOCPv1  = "OCPv1"
)

// MutationSigningString builds the canonical string a client signs to
// authenticate a mutating HTTP request:
//
//	OCPv1 | METHOD | PATH | timestampSec | nonce | sha256hex(body)
func MutationSigningString(method, path string, timestampSec int64, nonce, bodyHashHex string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%d%s%s%s%s",
		SchemeOCPv1, SigSeparator,
		method, SigSeparator,
		path, SigSeparator,
		timestampSec, SigSeparator,
		nonce, SigSeparator,
		bodyHashHex,
	)
}

// AgreementAttestationString builds the canonical string both parties
// to a notarised agreement sign:
//
//	OPENCAWT_AGREEMENT_V1|{proposalId}|{termsHash}|{agreementCode}|{partyAAgentId}|{partyBAgentId}|{expiresAtIso}
func AgreementAttestationString(proposalID, termsHash, agreementCode, partyA, partyB, expiresAtISO string) string {
	return fmt.Sprintf("OPENCAWT_AGREEMENT_V1%s%s%s%s%s%s%s%s%s%s%s%s",
		SigSeparator, proposalID,
		SigSeparator, termsHash,
		SigSeparator, agreementCode,
		SigSeparator, partyA,
		SigSeparator, partyB,
		SigSeparator, expiresAtISO,
	)
}
