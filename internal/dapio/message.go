// Package dapio moves Debug Adapter Protocol messages: decoding into a closed
// set of go-dap types, Content-Length framed streams, request/response
// correlation and traffic interception.
package dapio

import (
	"encoding/json"
	"errors"

	"github.com/google/go-dap"
)

// Kind is the protocol-level category of a message
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	}
	return "unknown"
}

// Unrecognized carries a well-formed message whose command or event go-dap
// does not model (kernel debugger extensions such as dumpCell or debugInfo).
type Unrecognized struct {
	Seq        int
	Type       string
	Command    string
	Event      string
	RequestSeq int
	Success    bool
	Raw        json.RawMessage
}

// GetSeq implements dap.Message
func (u *Unrecognized) GetSeq() int { return u.Seq }

// MarshalJSON re-emits the original bytes so forwarding is lossless
func (u *Unrecognized) MarshalJSON() ([]byte, error) {
	return u.Raw, nil
}

// Decode parses one DAP message body
func Decode(data []byte) (dap.Message, error) {
	msg, err := dap.DecodeProtocolMessage(data)
	if err == nil {
		return msg, nil
	}
	var fieldErr *dap.DecodeProtocolMessageFieldError
	if !errors.As(err, &fieldErr) {
		return nil, err
	}
	var head struct {
		Seq        int    `json:"seq"`
		Type       string `json:"type"`
		Command    string `json:"command"`
		Event      string `json:"event"`
		RequestSeq int    `json:"request_seq"`
		Success    bool   `json:"success"`
	}
	if jerr := json.Unmarshal(data, &head); jerr != nil {
		return nil, err
	}
	return &Unrecognized{
		Seq:        head.Seq,
		Type:       head.Type,
		Command:    head.Command,
		Event:      head.Event,
		RequestSeq: head.RequestSeq,
		Success:    head.Success,
		Raw:        append(json.RawMessage(nil), data...),
	}, nil
}

// KindOf classifies a decoded message
func KindOf(m dap.Message) Kind {
	switch v := m.(type) {
	case *Unrecognized:
		switch v.Type {
		case "request":
			return KindRequest
		case "response":
			return KindResponse
		case "event":
			return KindEvent
		}
		return KindUnknown
	case dap.RequestMessage:
		return KindRequest
	case dap.ResponseMessage:
		return KindResponse
	case dap.EventMessage:
		return KindEvent
	}
	return KindUnknown
}

// CommandOf returns the command of a request or response, or the event name
func CommandOf(m dap.Message) string {
	switch v := m.(type) {
	case *Unrecognized:
		if v.Event != "" {
			return v.Event
		}
		return v.Command
	case dap.RequestMessage:
		return v.GetRequest().Command
	case dap.ResponseMessage:
		return v.GetResponse().Command
	case dap.EventMessage:
		return v.GetEvent().Event
	}
	return ""
}

// RequestSeqOf returns request_seq for responses and 0 otherwise
func RequestSeqOf(m dap.Message) int {
	switch v := m.(type) {
	case *Unrecognized:
		return v.RequestSeq
	case dap.ResponseMessage:
		return v.GetResponse().RequestSeq
	}
	return 0
}

// ResponseError is returned when the adapter answers success=false
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return "dap " + e.Command + " failed"
	}
	return "dap " + e.Command + " failed: " + e.Message
}

// responseError extracts a failure from a response, if any
func responseError(m dap.Message) error {
	switch v := m.(type) {
	case *dap.ErrorResponse:
		msg := v.Message
		if v.Body.Error != nil && v.Body.Error.Format != "" {
			msg = v.Body.Error.Format
		}
		return &ResponseError{Command: v.Command, Message: msg}
	case *Unrecognized:
		if !v.Success {
			return &ResponseError{Command: v.Command}
		}
	case dap.ResponseMessage:
		if r := v.GetResponse(); !r.Success {
			return &ResponseError{Command: r.Command, Message: r.Message}
		}
	}
	return nil
}
