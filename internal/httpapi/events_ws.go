package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ttsprep/internal/connectivity"
	"github.com/ent0n29/ttsprep/internal/install"
	"github.com/ent0n29/ttsprep/internal/protocol"
)

// handleEventsWS streams connection status and install events to the client
// and accepts cancel_downloads, ensure and decision messages.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			if t, ok := messageTypeOf(msg); ok {
				s.observeWS("drop", t)
			}
		}
	}

	if s.monitor != nil {
		status := s.monitor.Status()
		enqueue(protocol.NewConnectionStatus(status.String(), status.Online()))
		unsubscribe := s.monitor.Subscribe(func(status connectivity.Status) {
			enqueue(protocol.NewConnectionStatus(status.String(), status.Online()))
		})
		defer unsubscribe()
	}

	events, unsubscribeEvents := s.orch.Subscribe()
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				enqueue(outboundFor(evt))
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(s.wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWS("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", t)
		}
		if errEvent, failed := s.dispatch(parsed); failed {
			enqueue(errEvent)
		}
	}

	cancel()
	unsubscribeEvents()
	<-forwardDone
	<-writerDone
}

// dispatch applies one inbound command. It returns an error event to send back
// when the command could not be applied.
func (s *Server) dispatch(msg any) (protocol.ErrorEvent, bool) {
	switch m := msg.(type) {
	case protocol.CancelDownloads:
		if s.orch.CancelDownloads() {
			log.Printf("httpapi: downloads cancelled by websocket client")
		}
	case protocol.Ensure:
		if s.planner == nil {
			return wsError("unavailable", "setup planner not configured", false), true
		}
		go func() {
			if _, err := s.planner.Ensure(s.baseCtx); err != nil {
				log.Printf("httpapi: ensure: %v", err)
				s.orch.Publish(install.Event{Type: install.EventRunFailed, Error: err.Error()})
			}
		}()
	case protocol.Decision:
		if s.prompts == nil {
			return wsError("decisions_disabled", "decision mode is "+s.cfg.DecisionMode, false), true
		}
		decision, err := install.ParseDecision(m.Choice)
		if err != nil {
			return wsError("invalid_choice", err.Error(), false), true
		}
		if err := s.prompts.Answer(m.Key, decision); err != nil {
			return wsError("no_pending_decision", err.Error(), true), true
		}
	}
	return protocol.ErrorEvent{}, false
}

func outboundFor(evt install.Event) any {
	if evt.Type == install.EventDecisionRequired {
		return protocol.DecisionRequired{
			Type:    protocol.TypeDecisionRequired,
			Key:     evt.Key,
			Attempt: evt.Attempt,
			Detail:  evt.Detail,
			Error:   evt.Error,
			Choices: []string{install.Retry.String(), install.Abort.String()},
		}
	}
	return protocol.InstallEvent{Type: protocol.TypeInstallEvent, Event: evt}
}

func wsError(code, detail string, retryable bool) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    "gateway",
		Retryable: retryable,
		Detail:    detail,
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.CancelDownloads:
		return m.Type, true
	case protocol.Ensure:
		return m.Type, true
	case protocol.Decision:
		return m.Type, true
	case protocol.ConnectionStatus:
		return m.Type, true
	case protocol.InstallEvent:
		return m.Type, true
	case protocol.DecisionRequired:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
