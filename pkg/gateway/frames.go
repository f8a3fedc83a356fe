package gateway

import "encoding/json"

// Close codes sent to clients. 4xxx codes are application defined.
const (
	CloseUnauthorized     = 4401
	CloseDuplicateSession = 4409
	CloseTooMany          = 4429
)

// Frame types sent by the server
const (
	FrameConnectionEstablished = "connection-established"
	FrameAuthError             = "auth-error"
	FrameConnectionError       = "connection-error"
	FrameMessageSizeError      = "message-size-error"
	FrameRateLimitExceeded     = "rate-limit-exceeded"
	FrameError                 = "error"
	FramePong                  = "pong"
)

// Frame is a server message. Only the fields of its type are set.
type Frame struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	MaxSize    int64  `json:"maxSize,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Event is an inbound client message
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func parseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == "" {
		return nil, errMissingType
	}
	return &e, nil
}
