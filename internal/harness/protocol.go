package harness

import (
	"encoding/json"
	"fmt"
)

// A directive forwarded from the shell subprocess to the build server.
type Envelope struct {
	Directive string   `json:"directive"`
	Args      []string `json:"args"`
}

// The server's answer to a directive.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Serializes a message as a newline-delimited JSON frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return append(data, '\n'), nil
}

// Parses a directive envelope from a received frame.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Directive == "" {
		return Envelope{}, fmt.Errorf("%w: empty directive", ErrProtocol)
	}
	return env, nil
}

// Parses a reply from a received frame.
func DecodeReply(line []byte) (Reply, error) {
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return reply, nil
}
