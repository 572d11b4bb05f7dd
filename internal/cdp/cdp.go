// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package cdp frames Chrome DevTools Protocol messages. Replies are decoded
// once at the dispatch boundary into a tagged Frame: a reply carries either a
// result payload or a structured protocol error, and an event carries its
// method and params.
package cdp

import (
	"encoding/json"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// Methods used by the connection layer.
const (
	MethodCreateTarget     = "Target.createTarget"
	MethodCloseTarget      = "Target.closeTarget"
	MethodNavigate         = "Page.navigate"
	MethodEvaluate         = "Runtime.evaluate"
	EventLoadEventFired    = "Page.loadEventFired"
	EventInspectorDetached = "Inspector.detached"
)

// EnableMethod returns the enable command for a protocol domain.
func EnableMethod(domain string) string {
	return domain + ".enable"
}

// Request is an outbound command.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Error is the structured error carried by a failed reply.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Kind tags a decoded frame.
type Kind int

const (
	KindReply Kind = iota
	KindEvent
)

// Frame is one inbound message.
type Frame struct {
	Kind   Kind
	ID     int64
	Result json.RawMessage
	Error  *Error
	Method string
	Params json.RawMessage
}

type wireFrame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Encode frames a request.
func Encode(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeCDPFrameInvalid, "encoding command",
			tetherr.FieldMethod(method))
	}
	return data, nil
}

// Decode parses an inbound message. A message without an id and without a
// method is rejected.
func Decode(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, tetherr.Wrap(err, tetherr.CodeCDPFrameInvalid, "decoding frame")
	}

	switch {
	case w.ID != nil:
		return Frame{Kind: KindReply, ID: *w.ID, Result: w.Result, Error: w.Error}, nil
	case w.Method != "":
		return Frame{Kind: KindEvent, Method: w.Method, Params: w.Params}, nil
	default:
		return Frame{}, tetherr.New(tetherr.CodeCDPFrameInvalid, "frame has neither id nor method")
	}
}

// Err converts a failed reply into a protocol error. It returns nil for a
// successful reply.
func (f Frame) Err(method string) error {
	if f.Error == nil {
		return nil
	}
	return tetherr.New(tetherr.CodeCDPCommandProtocol, f.Error.Message,
		tetherr.FieldMethod(method),
		tetherr.Field("cdp_code", f.Error.Code),
		tetherr.Field("cdp_data", f.Error.Data),
	)
}

// DecodeResult unmarshals a reply payload into T.
func DecodeResult[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, tetherr.Wrap(err, tetherr.CodeCDPFrameInvalid, "decoding result")
	}
	return out, nil
}

// VersionInfo is the capabilities document served at /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version,omitempty"`
	WebKitVersion        string `json:"WebKit-Version,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// TargetInfo is one entry of /json/list.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

type CreateTargetParams struct {
	URL string `json:"url"`
}

type CreateTargetResult struct {
	TargetID string `json:"targetId"`
}

type CloseTargetParams struct {
	TargetID string `json:"targetId"`
}

type NavigateParams struct {
	URL string `json:"url"`
}

type NavigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

type EvaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
}

// RemoteObject is the mirror of a JavaScript value.
type RemoteObject struct {
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

type ExceptionDetails struct {
	Text string `json:"text"`
}

type EvaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}
