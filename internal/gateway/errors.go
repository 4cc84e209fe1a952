package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/serverr"
)

// APIError is a failed backend call. It carries the decoded server messages
// so the orchestrator can classify the failure without knowing the wire shape.
type APIError struct {
	Method     string
	Status     int
	Exception  string
	Messages   []serverr.Message
	ItemErrors []serverr.ItemError
}

func (e *APIError) Error() string {
	text := e.Exception
	if len(e.Messages) > 0 {
		text = e.Messages[0].Message
	}
	if text == "" && len(e.ItemErrors) > 0 {
		text = e.ItemErrors[0].Error
	}
	if text == "" {
		text = "request failed"
	}
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s: status %d: %s", e.Method, e.Status, text)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Method, text)
}

// ServerPayload exposes the decoded messages to the error classifier.
func (e *APIError) ServerPayload() serverr.Payload {
	return serverr.Payload{Messages: e.Messages, ItemErrors: e.ItemErrors, Text: e.Exception}
}

// errorBody is every field the backend may use to describe a failure, either
// at the top level or inside the message envelope.
type errorBody struct {
	ServerMessages string          `json:"_server_messages"`
	Exception      string          `json:"exception"`
	ExcType        string          `json:"exc_type"`
	Message        json.RawMessage `json:"message"`
	Error          json.RawMessage `json:"error"`
	ItemErrors     json.RawMessage `json:"item_errors"`
	ItemError      json.RawMessage `json:"item_error"`
}

// newAPIError decodes a failure body. Unknown shapes keep the raw text.
func newAPIError(method string, status int, body []byte) *APIError {
	e := &APIError{Method: method, Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		e.Exception = strings.TrimSpace(string(body))
		return e
	}
	e.absorb(eb)

	// {"message": {"success": false, "error": ..., "item_errors": [...]}}
	var inner errorBody
	if len(eb.Message) > 0 && eb.Message[0] == '{' && json.Unmarshal(eb.Message, &inner) == nil {
		e.absorb(inner)
	}

	if e.Exception == "" && len(e.Messages) == 0 && len(e.ItemErrors) == 0 {
		e.Exception = strings.TrimSpace(string(body))
	}
	return e
}

func (e *APIError) absorb(eb errorBody) {
	if eb.ServerMessages != "" {
		e.Messages = append(e.Messages, serverr.ParseServerMessages(eb.ServerMessages)...)
	}
	if e.Exception == "" {
		e.Exception = eb.Exception
	}
	for _, raw := range []json.RawMessage{eb.Error, eb.Message} {
		if text := rawText(raw); text != "" {
			e.Messages = append(e.Messages, serverr.Message{Message: text})
		}
	}
	for _, raw := range []json.RawMessage{eb.ItemError, eb.ItemErrors} {
		if items := serverr.ParseItemErrors(raw); len(items) > 0 {
			e.ItemErrors = append(e.ItemErrors, items...)
		}
	}
}

// rawText returns raw when it is a non-empty JSON string.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
