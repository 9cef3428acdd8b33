package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// Envelope types of control traffic.
const (
	TypeControlRequest       = "control_request"
	TypeControlResponse      = "control_response"
	TypeControlCancelRequest = "control_cancel_request"
)

// Response subtypes.
const (
	subtypeSuccess = "success"
	subtypeError   = "error"
)

// ControlRequest is a control message sent to or received from the agent.
//
// Wire format:
//
//	{
//	  "type": "control_request",
//	  "request_id": "01J...",
//	  "request": {
//	    "subtype": "initialize",
//	    "hooks": {...}
//	  }
//	}
type ControlRequest struct {
	// Type is always "control_request"
	Type string `json:"type"`

	// RequestID correlates the request with its response
	RequestID string `json:"request_id"` //nolint:tagliatelle // wire format is snake_case

	// Request holds the subtype and the subtype-specific fields
	Request map[string]any `json:"request"`
}

// NewControlRequest builds a request of the given subtype. Payload keys are
// merged next to "subtype".
func NewControlRequest(requestID, subtype string, payload map[string]any) *ControlRequest {
	body := make(map[string]any, len(payload)+1)
	maps.Copy(body, payload)
	body["subtype"] = subtype

	return &ControlRequest{
		Type:      TypeControlRequest,
		RequestID: requestID,
		Request:   body,
	}
}

// Subtype extracts the subtype from the nested request data.
func (r *ControlRequest) Subtype() string {
	if s, ok := r.Request["subtype"].(string); ok {
		return s
	}

	return ""
}

// ControlResponse answers a control request.
//
// Wire format for success:
//
//	{
//	  "type": "control_response",
//	  "response": {
//	    "subtype": "success",
//	    "request_id": "01J...",
//	    "response": {...}
//	  }
//	}
//
// Wire format for error:
//
//	{
//	  "type": "control_response",
//	  "response": {
//	    "subtype": "error",
//	    "request_id": "01J...",
//	    "error": "error message"
//	  }
//	}
type ControlResponse struct {
	// Type is always "control_response"
	Type string `json:"type"`

	// Response holds subtype, request_id and either response or error
	Response map[string]any `json:"response"`
}

// NewSuccessResponse answers requestID with payload. A nil payload is sent
// as an empty object.
func NewSuccessResponse(requestID string, payload map[string]any) *ControlResponse {
	if payload == nil {
		payload = map[string]any{}
	}

	return &ControlResponse{
		Type: TypeControlResponse,
		Response: map[string]any{
			"subtype":    subtypeSuccess,
			"request_id": requestID,
			"response":   payload,
		},
	}
}

// NewErrorResponse answers requestID with an error message.
func NewErrorResponse(requestID, message string) *ControlResponse {
	return &ControlResponse{
		Type: TypeControlResponse,
		Response: map[string]any{
			"subtype":    subtypeError,
			"request_id": requestID,
			"error":      message,
		},
	}
}

// IsError checks if the response is an error response.
func (r *ControlResponse) IsError() bool {
	s, _ := r.Response["subtype"].(string)

	return s == subtypeError
}

// ErrorMessage extracts the error message from an error response.
func (r *ControlResponse) ErrorMessage() string {
	e, _ := r.Response["error"].(string)

	return e
}

// Payload extracts the response payload from a success response.
func (r *ControlResponse) Payload() map[string]any {
	p, _ := r.Response["response"].(map[string]any)

	return p
}

// RequestID extracts the request_id from the nested response.
func (r *ControlResponse) RequestID() string {
	id, _ := r.Response["request_id"].(string)

	return id
}

// parseControlRequest reads an inbound control_request envelope.
func parseControlRequest(msg map[string]any) (*ControlRequest, error) {
	requestID, ok := msg["request_id"].(string)
	if !ok || requestID == "" {
		return nil, fmt.Errorf("control request missing request_id")
	}

	body, ok := msg["request"].(map[string]any)
	if !ok {
		return &ControlRequest{Type: TypeControlRequest, RequestID: requestID}, fmt.Errorf("control request %s missing request body", requestID)
	}

	return &ControlRequest{Type: TypeControlRequest, RequestID: requestID, Request: body}, nil
}

// parseControlResponse reads an inbound control_response envelope.
func parseControlResponse(msg map[string]any) (*ControlResponse, error) {
	body, ok := msg["response"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("control response missing response body")
	}

	resp := &ControlResponse{Type: TypeControlResponse, Response: body}
	if resp.RequestID() == "" {
		return nil, fmt.Errorf("control response missing request_id")
	}

	return resp, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}

	return data, nil
}

// RequestHandler answers one inbound control request.
//
// The returned payload becomes the success response body. An error becomes
// an error response carrying err.Error(). ctx is cancelled when the agent
// sends control_cancel_request for this request or the controller stops.
type RequestHandler func(ctx context.Context, req *ControlRequest) (map[string]any, error)
