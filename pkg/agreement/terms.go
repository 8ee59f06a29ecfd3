package agreement

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidTerms means the supplied terms failed schema validation
// before canonicalisation.
var ErrInvalidTerms = errors.New("agreement: terms failed validation")

// termsSchema bounds what a proposal's terms may look like before the
// canonical hash is computed: a JSON object with at least one named
// term, scalar-or-structured values, and no binary blobs smuggled in as
// megabyte strings. Validation runs against the decoded value, so the
// same rules hold whichever party re-derives the hash later.
const termsSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"minProperties": 1,
	"maxProperties": 64,
	"propertyNames": {"maxLength": 128},
	"additionalProperties": {
		"anyOf": [
			{"type": "string", "maxLength": 8192},
			{"type": "number"},
			{"type": "boolean"},
			{"type": "null"},
			{"type": "array", "maxItems": 256},
			{"type": "object", "maxProperties": 64}
		]
	}
}`

var termsSchema = jsonschema.MustCompileString("agreement-terms.json", termsSchemaJSON)

// validateTerms checks the raw terms value against termsSchema. The
// value round-trips through encoding/json first so struct-typed callers
// and map-typed callers validate identically.
func validateTerms(terms any) error {
	raw, err := json.Marshal(terms)
	if err != nil {
		return ErrInvalidTerms
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ErrInvalidTerms
	}
	if err := termsSchema.Validate(v); err != nil {
		return ErrInvalidTerms
	}
	return nil
}
