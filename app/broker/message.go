package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/bytedance/sonic"
)

const contentTypeJSON = "application/json"

var codec = sonic.ConfigStd

// Request is what a handler receives for one consumed message.
type Request struct {
	// Body is the decoded JSON payload, nil when the payload was not valid JSON.
	Body any
	// Message describes the decode outcome.
	Message string

	Queue         string
	CorrelationID string
	Redelivered   bool
}

// Response is the RPC reply envelope.
type Response struct {
	Code     int `json:"code"`
	Response any `json:"response"`
}

// Handler processes one request and produces one response. A returned error
// rejects the message instead of replying.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// EncodePayload encodes a value as a JSON message body.
func EncodePayload(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func decodePayload(body []byte) (any, *DecodeError) {
	var v any
	if err := codec.Unmarshal(body, &v); err != nil {
		return nil, &DecodeError{Raw: body, Err: err}
	}
	return v, nil
}

// DecodeRequest turns a consumed body into a handler request. Invalid JSON is
// not an error: the request carries a nil body and a diagnostic message.
func DecodeRequest(body []byte) Request {
	v, err := decodePayload(body)
	if err != nil {
		return Request{
			Body:    nil,
			Message: fmt.Sprintf("Invalid JSON: %s (%v)", body, err.Err),
		}
	}
	return Request{Body: v, Message: "Parsed successfully"}
}

// DecodeResponse turns a reply body into a Response. Code defaults to 200 when
// absent or not an integer that fits in an int; a reply without a "response" key is returned whole.
// Invalid JSON resolves to a 500 response carrying the raw body.
func DecodeResponse(body []byte) Response {
	v, err := decodePayload(body)
	if err != nil {
		return Response{
			Code: http.StatusInternalServerError,
			Response: map[string]any{
				"message": "Invalid JSON format",
				"raw":     string(body),
				"error":   err.Err.Error(),
			},
		}
	}

	resp := Response{Code: http.StatusOK, Response: v}
	obj, ok := v.(map[string]any)
	if !ok {
		return resp
	}
	if code, ok := statusCode(obj["code"]); ok {
		resp.Code = code
	}
	if inner, ok := obj["response"]; ok {
		resp.Response = inner
	}
	return resp
}

// statusCode accepts only whole JSON numbers within the int range.
func statusCode(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

func errorResponse(code int, message string, err error) Response {
	body := map[string]any{"message": message}
	if err != nil {
		body["error"] = err.Error()
	}
	return Response{Code: code, Response: body}
}
