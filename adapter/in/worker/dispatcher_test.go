package worker

import (
	"context"
	"testing"
)

func TestParsePayload(t *testing.T) {
	msg := NewMessage(JobEventProcess, map[string]any{
		"account_id":  "acc-1",
		"message_id":  "m1",
		"thread_id":   "t1",
		"folder_hint": "INBOX",
	})

	p, err := ParsePayload[EventProcessPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if p.AccountID != "acc-1" || p.MessageID != "m1" || p.ThreadID != "t1" || p.FolderHint != "INBOX" {
		t.Errorf("payload = %+v", p)
	}
}

func TestParsePayloadIgnoresUnknownFields(t *testing.T) {
	msg := NewMessage(JobWatchRenew, map[string]any{
		"renew_all": true,
		"extra":     "ignored",
	})

	p, err := ParsePayload[WatchRenewPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if !p.RenewAll {
		t.Error("RenewAll not decoded")
	}
}

func TestHandlerUnknownJobType(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	msg := NewMessage("unknown.job", nil)

	// Unknown types are dropped, not retried forever.
	if err := h.Process(context.Background(), msg); err != nil {
		t.Errorf("Process() error = %v, want nil for an unknown type", err)
	}
}

func TestMessagePriority(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     bool
	}{
		{"low", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"high", PriorityHigh, true},
		{"critical", PriorityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPriorityMessage(JobEventProcess, nil, tt.priority)
			if got := m.IsPriority(); got != tt.want {
				t.Errorf("IsPriority() = %v, want %v", got, tt.want)
			}
		})
	}
}
