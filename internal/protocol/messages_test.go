package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageDecision(t *testing.T) {
	raw := []byte(`{"type":"decision","key":"python","choice":" Retry "}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	decision, ok := msg.(Decision)
	if !ok {
		t.Fatalf("message type = %T, want Decision", msg)
	}
	if decision.Key != "python" || decision.Choice != "retry" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestParseClientMessageCommands(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"cancel_downloads"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(CancelDownloads); !ok {
		t.Fatalf("message type = %T, want CancelDownloads", msg)
	}
	msg, err = ParseClientMessage([]byte(`{"type":"ensure"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(Ensure); !ok {
		t.Fatalf("message type = %T, want Ensure", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidDecision(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"decision","key":"","choice":"retry"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestConnectionStatusWireShape(t *testing.T) {
	b, err := json.Marshal(NewConnectionStatus("reestablished", true))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(b, &decoded)
	if decoded["type"] != "connection_status" || decoded["status"] != "reestablished" || decoded["online"] != true {
		t.Fatalf("wire shape = %s", b)
	}
}

func BenchmarkParseClientMessageDecision(b *testing.B) {
	raw := []byte(`{"type":"decision","key":"model","choice":"abort"}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatal(err)
		}
	}
}
