package strava

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

const schemaBaseURL = "https://schemas.run-ranking.local/strava/"

const athleteSchema = `{
  "type": "object",
  "title": "Athlete",
  "properties": {
    "id": {"type": "integer"},
    "firstname": {"type": "string"},
    "lastname": {"type": "string"},
    "profile": {"type": "string"}
  },
  "required": ["id", "firstname", "lastname"]
}`

const authorizationSchema = `{
  "type": "object",
  "title": "AuthorizationCodeGrant",
  "properties": {
    "token_type": {"const": "Bearer"},
    "access_token": {"type": "string", "minLength": 1},
    "refresh_token": {"type": "string", "minLength": 1},
    "expires_at": {"type": "integer"},
    "expires_in": {"type": "integer"},
    "athlete": {"$ref": "athlete.json"}
  },
  "required": ["token_type", "access_token", "refresh_token", "expires_at", "expires_in", "athlete"]
}`

const refreshSchema = `{
  "type": "object",
  "title": "RefreshTokenGrant",
  "properties": {
    "token_type": {"const": "Bearer"},
    "access_token": {"type": "string", "minLength": 1},
    "refresh_token": {"type": "string", "minLength": 1},
    "expires_at": {"type": "integer"},
    "expires_in": {"type": "integer"}
  },
  "required": ["access_token", "refresh_token", "expires_at"]
}`

const activitySchema = `{
  "type": "object",
  "title": "SummaryActivity",
  "properties": {
    "id": {"type": "integer"},
    "distance": {"type": "number", "minimum": 0},
    "moving_time": {"type": "integer", "minimum": 0},
    "type": {"type": "string"},
    "start_date": {"type": "string", "format": "date-time"},
    "athlete": {
      "type": "object",
      "properties": {"id": {"type": "integer"}},
      "required": ["id"]
    }
  },
  "required": ["id", "distance", "moving_time", "type", "start_date"]
}`

const activityListSchema = `{
  "type": "array",
  "title": "SummaryActivityList",
  "items": {"$ref": "activity.json"}
}`

// schemaSet holds the compiled response schemas. Compiled once per client.
type schemaSet struct {
	authorization *jsonschema.Schema
	refresh       *jsonschema.Schema
	activity      *jsonschema.Schema
	activityList  *jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	resources := map[string]string{
		"athlete.json":       athleteSchema,
		"authorization.json": authorizationSchema,
		"refresh.json":       refreshSchema,
		"activity.json":      activitySchema,
		"activity_list.json": activityListSchema,
	}
	for name, raw := range resources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	set := &schemaSet{}
	targets := []struct {
		name string
		dst  **jsonschema.Schema
	}{
		{"authorization.json", &set.authorization},
		{"refresh.json", &set.refresh},
		{"activity.json", &set.activity},
		{"activity_list.json", &set.activityList},
	}
	for _, target := range targets {
		compiled, err := compiler.Compile(schemaBaseURL + target.name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", target.name, err)
		}
		*target.dst = compiled
	}
	return set, nil
}

// validate fails closed: anything that is not valid JSON matching the schema is rejected.
func validate(schema *jsonschema.Schema, op string, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
	}
	return nil
}
