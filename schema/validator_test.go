package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidateFragmentPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"name":"Harbor strike",
		"category":"labor",
		"summary":"Dockworkers walked out over contract terms.",
		"key_points":["contract talks stalled","port traffic halted"],
		"perspective":"union",
		"source_id":"metro-post-4471",
		"relevance":0.9,
		"occurred_at":"2026-08-20T09:30:00Z"
	}`)

	fragment, err := ValidateFragmentPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if fragment.PartitionKey != "metro" {
		t.Fatalf("expected partition_key=metro, got %q", fragment.PartitionKey)
	}
	if fragment.Name != "Harbor strike" {
		t.Fatalf("expected name, got %q", fragment.Name)
	}
	want := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if !fragment.OccurredAtTime().Equal(want) {
		t.Fatalf("unexpected occurred_at: %v", fragment.OccurredAtTime())
	}
}

func TestValidateFragmentPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"summary":"No name field.",
		"source_id":"metro-post-4472"
	}`)

	if _, err := ValidateFragmentPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for missing name")
	}
}

func TestValidateFragmentPayload_WhitespaceName(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"name":"   ",
		"summary":"Whitespace name.",
		"source_id":"metro-post-4473"
	}`)

	_, err := ValidateFragmentPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only name")
	}
	if !strings.Contains(err.Error(), "name must not be empty") {
		t.Fatalf("expected name semantic error, got: %v", err)
	}
}

func TestValidateFragmentPayload_WrongVersion(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v2",
		"partition_key":"metro",
		"name":"Harbor strike",
		"summary":"Wrong version.",
		"source_id":"metro-post-4474"
	}`)

	if _, err := ValidateFragmentPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for payload_version v2")
	}
}

func TestValidateFragmentPayload_InvalidOccurredAt(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"name":"Harbor strike",
		"summary":"Bad timestamp.",
		"source_id":"metro-post-4475",
		"occurred_at":"yesterday"
	}`)

	if _, err := ValidateFragmentPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for invalid occurred_at")
	}
}

func TestValidateFragmentPayload_RelevanceOutOfRange(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"name":"Harbor strike",
		"summary":"Relevance too large.",
		"source_id":"metro-post-4476",
		"relevance":1.5
	}`)

	if _, err := ValidateFragmentPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for relevance above 1")
	}
}

func TestValidateFragmentPayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"partition_key":"metro",
		"name":"Harbor strike",
		"summary":"Trailing junk.",
		"source_id":"metro-post-4477"
	}{}`)

	if _, err := ValidateFragmentPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}

func TestValidateKeywordRulesPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"rules":[
			{"name":"port-strike","phrases":["port shutdown","harbor strike"]},
			{"name":"mayor-race","partition_key":"metro","phrases":["mayor race"]}
		]
	}`)

	rules, err := ValidateKeywordRulesPayload(payload)
	if err != nil {
		t.Fatalf("expected rules to be valid, got error: %v", err)
	}
	if len(rules.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules.Rules))
	}
	if rules.Rules[1].PartitionKey != "metro" {
		t.Fatalf("expected partition-scoped rule, got %q", rules.Rules[1].PartitionKey)
	}
}

func TestValidateKeywordRulesPayload_EmptyPhrases(t *testing.T) {
	payload := json.RawMessage(`{
		"rules":[{"name":"empty","phrases":[]}]
	}`)

	if _, err := ValidateKeywordRulesPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for empty phrases")
	}
}

func TestValidateKeywordRulesPayload_WhitespacePhrases(t *testing.T) {
	payload := json.RawMessage(`{
		"rules":[{"name":"blank","phrases":["   "]}]
	}`)

	_, err := ValidateKeywordRulesPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only phrases")
	}
	if !strings.Contains(err.Error(), "no usable phrases") {
		t.Fatalf("expected phrase semantic error, got: %v", err)
	}
}
