package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeCancelDownloads  MessageType = "cancel_downloads"
	TypeEnsure           MessageType = "ensure"
	TypeDecision         MessageType = "decision"
	TypeConnectionStatus MessageType = "connection_status"
	TypeInstallEvent     MessageType = "install_event"
	TypeDecisionRequired MessageType = "decision_required"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// CancelDownloads asks the server to abort the transfers in flight.
type CancelDownloads struct {
	Type MessageType `json:"type"`
}

// Ensure asks the server to check and install missing components.
type Ensure struct {
	Type MessageType `json:"type"`
}

// Decision answers a decision_required prompt.
type Decision struct {
	Type   MessageType `json:"type"`
	Key    string      `json:"key"`
	Choice string      `json:"choice"`
}

type ConnectionStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	Online bool        `json:"online"`
	TSMs   int64       `json:"ts_ms"`
}

// InstallEvent wraps one orchestrator event. Event is already JSON-shaped.
type InstallEvent struct {
	Type  MessageType `json:"type"`
	Event any         `json:"event"`
}

type DecisionRequired struct {
	Type    MessageType `json:"type"`
	Key     string      `json:"key"`
	Attempt int         `json:"attempt"`
	Detail  string      `json:"detail,omitempty"`
	Error   string      `json:"error,omitempty"`
	Choices []string    `json:"choices"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// NewConnectionStatus stamps a connection_status message with the current time.
func NewConnectionStatus(status string, online bool) ConnectionStatus {
	return ConnectionStatus{
		Type:   TypeConnectionStatus,
		Status: status,
		Online: online,
		TSMs:   time.Now().UnixMilli(),
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCancelDownloads:
		return CancelDownloads{Type: env.Type}, nil
	case TypeEnsure:
		return Ensure{Type: env.Type}, nil
	case TypeDecision:
		var msg Decision
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Key = strings.TrimSpace(msg.Key)
		msg.Choice = strings.ToLower(strings.TrimSpace(msg.Choice))
		if msg.Key == "" || msg.Choice == "" {
			return nil, errors.New("invalid decision")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
