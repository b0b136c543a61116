package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tier", "golden"),
		attribute.String("user_id", "456"),
		attribute.String("verdict", "pass"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "tier" && attrs[1].Key != "tier" {
		t.Fatalf("expected tier to be retained")
	}
	if attrs[0].Key != "verdict" && attrs[1].Key != "verdict" {
		t.Fatalf("expected verdict to be retained")
	}
}
