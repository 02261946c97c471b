package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Server-to-client message types. Producer-originated event types (status,
// transcript, analysis, audio) pass through as-is.
const (
	typeConnected               = "connected"
	typeAuthSuccess             = "auth_success"
	typeSubscriptionConfirmed   = "subscription_confirmed"
	typeUnsubscriptionConfirmed = "unsubscription_confirmed"
	typePong                    = "pong"
	typeError                   = "error"
)

type messageKind int

const (
	kindUnknown messageKind = iota
	kindAuth
	kindSubscribe
	kindUnsubscribe
	kindPing
)

// clientMessage is the tagged union of all client-to-server messages,
// parsed once at the transport boundary. Unrecognized type strings map to
// kindUnknown, which takes the recoverable protocol-error path.
type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Topic string `json:"topic,omitempty"`
}

func (m clientMessage) kind() messageKind {
	switch m.Type {
	case "auth":
		return kindAuth
	case "subscribe":
		return kindSubscribe
	case "unsubscribe":
		return kindUnsubscribe
	case "ping":
		return kindPing
	default:
		return kindUnknown
	}
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	return msg, nil
}

// serverMessage is the envelope for every server-to-client frame.
type serverMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (m serverMessage) encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Failed to marshal server message", "type", m.Type, "error", err)
		return nil
	}
	return data
}

func connectedMessage(connectionID string) []byte {
	payload, _ := json.Marshal(map[string]string{"connectionId": connectionID})
	return serverMessage{Type: typeConnected, Payload: payload}.encode()
}

func authSuccessMessage(userID string) []byte {
	return serverMessage{Type: typeAuthSuccess, UserID: userID}.encode()
}

func subscriptionConfirmedMessage(topic string) []byte {
	return serverMessage{Type: typeSubscriptionConfirmed, Topic: topic}.encode()
}

func unsubscriptionConfirmedMessage(topic string) []byte {
	return serverMessage{Type: typeUnsubscriptionConfirmed, Topic: topic}.encode()
}

func pongMessage() []byte {
	return serverMessage{Type: typePong}.encode()
}

func errorMessage(message string) []byte {
	return serverMessage{Type: typeError, Message: message}.encode()
}

// eventFrame serializes a producer-originated event exactly once; the same
// frame is fanned out to every subscribed connection or buffered verbatim.
func eventFrame(eventType string, ts time.Time, payload json.RawMessage) []byte {
	return serverMessage{
		Type:      eventType,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Payload:   payload,
	}.encode()
}
