package api

import (
	"encoding/json"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Ciaran88/opencawt/pkg/store"
)

var errBallotVotesInvalid = errors.New("api: ballot votes failed validation")

// ballotVotesSchema pins the structured ballot payload before it
// reaches the tally: every vote names a claim and carries a finding
// from the closed enum. An unrecognised finding must die here — the
// verdict engine counts whatever strings reach it.
const ballotVotesSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"minItems": 1,
	"maxItems": 64,
	"items": {
		"type": "object",
		"required": ["claimId", "finding"],
		"properties": {
			"claimId": {"type": "string", "minLength": 1, "maxLength": 128},
			"finding": {"enum": ["proven", "not_proven", "insufficient"]},
			"recommendedRemedy": {"type": "string", "maxLength": 200}
		},
		"additionalProperties": false
	}
}`

var ballotVotesSchema = jsonschema.MustCompileString("ballot-votes.json", ballotVotesSchemaJSON)

// validateBallotVotes round-trips the typed votes through JSON so the
// schema sees the same shape the wire carried.
func validateBallotVotes(votes []store.BallotVote) error {
	raw, err := json.Marshal(votes)
	if err != nil {
		return errBallotVotesInvalid
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return errBallotVotesInvalid
	}
	if err := ballotVotesSchema.Validate(v); err != nil {
		return errBallotVotesInvalid
	}
	return nil
}
