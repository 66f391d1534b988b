package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusError  = "error"
)

// Reply is a decoded reply envelope: one of ReplyOK, ReplyDenied, ReplyError.
type Reply interface {
	Status() string
	// Source is the address the reply message arrived on.
	Source() string
	isReply()
}

// ReplyOK is a successful reply. Data holds the engine's payload: the string
// itself when the engine sent a JSON string, the raw JSON text otherwise.
type ReplyOK struct {
	From        string
	Address     string
	WorkspaceID string
	Data        string
	Raw         json.RawMessage
}

// ReplyDenied means the engine refused the request for lack of permission.
type ReplyDenied struct {
	From        string
	Address     string
	WorkspaceID string
	Data        string
}

// ReplyError means the engine accepted the request and failed it.
type ReplyError struct {
	From        string
	Address     string
	WorkspaceID string
	Data        string
}

func (r ReplyOK) Status() string     { return StatusOK }
func (r ReplyDenied) Status() string { return StatusDenied }
func (r ReplyError) Status() string  { return StatusError }

func (r ReplyOK) Source() string     { return r.From }
func (r ReplyDenied) Source() string { return r.From }
func (r ReplyError) Source() string  { return r.From }

func (ReplyOK) isReply()     {}
func (ReplyDenied) isReply() {}
func (ReplyError) isReply()  {}

// Unmarshal decodes Raw into out.
func (r ReplyOK) Unmarshal(out any) error {
	if len(r.Raw) == 0 {
		return fmt.Errorf("%w: empty data", ErrMalformedReply)
	}
	if err := json.Unmarshal(r.Raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}

type wireEnvelope struct {
	Status      *string         `json:"status"`
	Address     string          `json:"address"`
	WorkspaceID string          `json:"workspace_id"`
	Data        json.RawMessage `json:"data"`
}

// DecodeReply parses the JSON envelope carried in msg's first argument. A
// missing status is read as ok; the engine omits it on some connect replies.
func DecodeReply(msg Message) (Reply, error) {
	text, ok := msg.StringArg(0)
	if !ok {
		if raw, isBlob := firstBlob(msg); isBlob {
			text = string(raw)
		} else {
			return nil, fmt.Errorf("%w: %s has no envelope argument", ErrMalformedReply, msg.Address())
		}
	}
	return DecodeReplyText(msg.Address(), text)
}

// DecodeReplyText parses a reply envelope received on address.
func DecodeReplyText(address, text string) (Reply, error) {
	var env wireEnvelope
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedReply, address, err)
	}
	data, raw := envelopeData(env.Data)
	status := StatusOK
	if env.Status != nil {
		status = strings.ToLower(strings.TrimSpace(*env.Status))
	}
	switch status {
	case StatusOK:
		return ReplyOK{From: address, Address: env.Address, WorkspaceID: env.WorkspaceID, Data: data, Raw: raw}, nil
	case StatusDenied:
		return ReplyDenied{From: address, Address: env.Address, WorkspaceID: env.WorkspaceID, Data: data}, nil
	case StatusError:
		return ReplyError{From: address, Address: env.Address, WorkspaceID: env.WorkspaceID, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %s status=%q", ErrUnexpectedStatus, address, status)
	}
}

// EncodeReplyText renders an envelope the way the engine does. Used by
// engine fakes and by tests.
func EncodeReplyText(status, address, workspaceID string, data any) (string, error) {
	payload := map[string]any{
		"status":  status,
		"address": address,
	}
	if workspaceID != "" {
		payload["workspace_id"] = workspaceID
	}
	if data != nil {
		payload["data"] = data
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func envelopeData(raw json.RawMessage) (string, json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, trimmed
		}
	}
	return string(trimmed), trimmed
}

func firstBlob(msg Message) ([]byte, bool) {
	v, ok := msg.Arg(0)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
