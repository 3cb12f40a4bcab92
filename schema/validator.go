package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed fragment.schema.json
var fragmentSchemaJSON string

//go:embed keyword_rules.schema.json
var keywordRulesSchemaJSON string

// FragmentPayload is the wire form of one narrative fragment arriving at the
// resolve boundary.
type FragmentPayload struct {
	PayloadVersion string   `json:"payload_version"`
	PartitionKey   string   `json:"partition_key"`
	Name           string   `json:"name"`
	Category       string   `json:"category,omitempty"`
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points,omitempty"`
	Perspective    *string  `json:"perspective,omitempty"`
	SourceID       string   `json:"source_id"`
	Relevance      float64  `json:"relevance,omitempty"`
	OccurredAt     *string  `json:"occurred_at,omitempty"`
}

// KeywordRulePayload is one entry of a keyword rules file.
type KeywordRulePayload struct {
	Name         string   `json:"name"`
	PartitionKey string   `json:"partition_key,omitempty"`
	Phrases      []string `json:"phrases"`
}

// KeywordRulesPayload is the wire form of a keyword rules file.
type KeywordRulesPayload struct {
	Rules []KeywordRulePayload `json:"rules"`
}

var (
	compileOnce        sync.Once
	fragmentSchema     *jsonschema.Schema
	keywordRulesSchema *jsonschema.Schema
	compiledSchemaErr  error
)

// ValidateFragmentPayload enforces the fragment schema plus the semantic
// constraints the schema alone cannot express.
func ValidateFragmentPayload(payload json.RawMessage) (*FragmentPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, _, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var fragment FragmentPayload
	if err := json.Unmarshal(normalized, &fragment); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateFragmentSemantics(&fragment); err != nil {
		return nil, err
	}

	return &fragment, nil
}

// ValidateKeywordRulesPayload enforces the keyword rules schema and rejects
// rules whose phrases are effectively empty.
func ValidateKeywordRulesPayload(payload json.RawMessage) (*KeywordRulesPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode rules JSON: %w", err)
	}

	_, schema, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize rules JSON: %w", err)
	}

	var rules KeywordRulesPayload
	if err := json.Unmarshal(normalized, &rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}

	for i, rule := range rules.Rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, fmt.Errorf("rules[%d].name must not be empty", i)
		}
		nonEmpty := 0
		for _, phrase := range rule.Phrases {
			if strings.TrimSpace(phrase) != "" {
				nonEmpty++
			}
		}
		if nonEmpty == 0 {
			return nil, fmt.Errorf("rules[%d] (%s) has no usable phrases", i, rule.Name)
		}
	}

	return &rules, nil
}

func loadSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("fragment.schema.json", strings.NewReader(fragmentSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add fragment schema resource: %w", err)
			return
		}
		if err := compiler.AddResource("keyword_rules.schema.json", strings.NewReader(keywordRulesSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add keyword rules schema resource: %w", err)
			return
		}

		fragment, err := compiler.Compile("fragment.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile fragment schema: %w", err)
			return
		}
		rules, err := compiler.Compile("keyword_rules.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile keyword rules schema: %w", err)
			return
		}

		fragmentSchema = fragment
		keywordRulesSchema = rules
	})

	if compiledSchemaErr != nil {
		return nil, nil, compiledSchemaErr
	}
	if fragmentSchema == nil || keywordRulesSchema == nil {
		return nil, nil, fmt.Errorf("schemas not initialized")
	}
	return fragmentSchema, keywordRulesSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateFragmentSemantics(fragment *FragmentPayload) error {
	if fragment == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(fragment.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(fragment.PartitionKey) == "" {
		return fmt.Errorf("partition_key must not be empty")
	}
	if strings.TrimSpace(fragment.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.TrimSpace(fragment.Summary) == "" {
		return fmt.Errorf("summary must not be empty")
	}
	if strings.TrimSpace(fragment.SourceID) == "" {
		return fmt.Errorf("source_id must not be empty")
	}

	if fragment.OccurredAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*fragment.OccurredAt)); err != nil {
			return fmt.Errorf("occurred_at must be RFC3339: %w", err)
		}
	}

	for i, point := range fragment.KeyPoints {
		if strings.TrimSpace(point) == "" {
			return fmt.Errorf("key_points[%d] must not be empty", i)
		}
	}

	return nil
}

// OccurredAtTime parses the optional occurred_at field; the zero time means
// the field was absent.
func (f *FragmentPayload) OccurredAtTime() time.Time {
	if f == nil || f.OccurredAt == nil {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*f.OccurredAt))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
