package mediaapi

import (
	"bytes"
	"encoding/json"
)

// ResponseKind tells whether an upstream body came wrapped in a {meta,data} envelope.
type ResponseKind int

const (
	// BareResponse is a payload returned as is.
	BareResponse ResponseKind = iota
	// EnvelopedResponse is a payload found under the `data` field.
	EnvelopedResponse
)

func (k ResponseKind) String() string {
	if k == EnvelopedResponse {
		return "enveloped"
	}
	return "bare"
}

// Response is a decoded upstream body.
type Response struct {
	Kind    ResponseKind
	Meta    json.RawMessage
	Payload json.RawMessage
}

type envelope struct {
	Meta json.RawMessage `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope resolves every upstream body the same way: an object with a
// non-null `data` field is enveloped, anything else is bare.
// An empty body decodes to an empty bare response.
func DecodeEnvelope(raw []byte) (Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Response{Kind: BareResponse}, nil
	}
	if !json.Valid(trimmed) {
		return Response{}, &ProtocolError{Reason: "response is not valid JSON", Body: string(raw)}
	}

	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && !isNull(env.Data) {
			return Response{Kind: EnvelopedResponse, Meta: env.Meta, Payload: env.Data}, nil
		}
	}

	return Response{Kind: BareResponse, Payload: trimmed}, nil
}

// IsEmpty reports whether the response carried no payload.
func (r Response) IsEmpty() bool {
	return isNull(r.Payload)
}

// Decode unmarshals the payload into v.
func (r Response) Decode(v interface{}) error {
	if r.IsEmpty() {
		return &ProtocolError{Reason: "empty response payload"}
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return &ProtocolError{Reason: "unexpected response payload", Body: string(r.Payload)}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
