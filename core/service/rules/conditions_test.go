package rules

import (
	"testing"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

func TestMatchField(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{"empty pattern matches anything", "", "whatever", true},
		{"substring match", "newsletter", "The Weekly Newsletter Digest", true},
		{"substring is case-insensitive", "NEWS", "breaking news today", true},
		{"substring no match", "invoice", "weekly update", false},
		{"quoted requires exact", `"billing@acme.com"`, "billing@acme.com", true},
		{"quoted exact is case-insensitive", `"Billing@Acme.com"`, "billing@acme.com", true},
		{"quoted rejects superstring", `"billing"`, "billing@acme.com", false},
		{"quoted trims value whitespace", `"hello"`, "  hello ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchField(tt.pattern, tt.value); got != tt.want {
				t.Errorf("matchField(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestEvalStatic(t *testing.T) {
	msg := &domain.Message{
		From:    domain.Address{Name: "Acme Billing", Email: "billing@acme.com"},
		To:      []domain.Address{{Email: "me@example.com"}, {Email: "team@example.com"}},
		Subject: "Invoice #42 attached",
	}

	tests := []struct {
		name string
		cond *domain.StaticCondition
		want bool
	}{
		{"nil condition never matches", nil, false},
		{"empty condition never matches", &domain.StaticCondition{}, false},
		{"from substring", &domain.StaticCondition{From: "acme.com"}, true},
		{"subject substring", &domain.StaticCondition{Subject: "invoice"}, true},
		{"to matches any recipient", &domain.StaticCondition{To: "team@"}, true},
		{"populated fields are ANDed", &domain.StaticCondition{From: "acme.com", Subject: "refund"}, false},
		{"all fields match", &domain.StaticCondition{From: "acme", To: "me@", Subject: "#42"}, true},
		{"to with no matching recipient", &domain.StaticCondition{To: "boss@"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalStatic(tt.cond, msg); got != tt.want {
				t.Errorf("evalStatic() = %v, want %v", got, tt.want)
			}
		})
	}
}
