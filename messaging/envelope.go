package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "orders-service/common/errors"
)

// Packet is a request or event on the wire. Requests carry an ID, events
// do not. The layout matches NestJS NATS microservices so Nest services can
// talk to this one unchanged.
type Packet struct {
	Pattern json.RawMessage `json:"pattern"`
	Data    json.RawMessage `json:"data"`
	ID      string          `json:"id,omitempty"`
}

// Reply answers a request Packet with either Response or Err.
type Reply struct {
	ID         string          `json:"id,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Err        json.RawMessage `json:"err,omitempty"`
	IsDisposed bool            `json:"isDisposed"`
}

// PatternFor returns the pattern value for a subject. Object patterns are
// subscribed under their compact JSON, so such subjects are sent as-is.
func PatternFor(subject string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(subject))
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(subject)
	return b
}

// SubjectFor returns the subject a pattern is published on.
func SubjectFor(pattern json.RawMessage) string {
	var s string
	if err := json.Unmarshal(pattern, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, pattern); err != nil {
		return string(pattern)
	}
	return compact.String()
}

func newReply(id string, response interface{}, err error) ([]byte, error) {
	reply := Reply{ID: id, IsDisposed: true}
	if err != nil {
		b, mErr := json.Marshal(apperrors.From(err))
		if mErr != nil {
			return nil, mErr
		}
		reply.Err = b
		return json.Marshal(reply)
	}

	b, mErr := json.Marshal(response)
	if mErr != nil {
		return nil, fmt.Errorf("marshal response: %w", mErr)
	}
	reply.Response = b
	return json.Marshal(reply)
}

// remoteError turns the err field of a reply into an UPSTREAM error that
// keeps the upstream message, status and raw payload.
func remoteError(subject string, raw json.RawMessage) *apperrors.Error {
	var remote struct {
		Kind    apperrors.Kind `json:"kind"`
		Message string         `json:"message"`
		Status  int            `json:"status"`
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		remote.Message = msg
	} else if err := json.Unmarshal(raw, &remote); err != nil {
		remote.Message = string(raw)
	}

	if remote.Message == "" {
		remote.Message = fmt.Sprintf("%s failed", subject)
	}
	if remote.Status == 0 {
		remote.Status = http.StatusBadGateway
	}

	kind := apperrors.KindUpstream
	if remote.Kind == apperrors.KindTimeout {
		kind = apperrors.KindTimeout
	}

	e := apperrors.New(kind, remote.Status, remote.Message, nil)
	e.Upstream = raw
	return e
}
