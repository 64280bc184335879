package jupyter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// protocolVersion is the Jupyter messaging protocol version we speak
const protocolVersion = "5.3"

// Header is a Jupyter message header
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// Message is one message on the kernel channels websocket
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader json.RawMessage `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

// newMessage builds an outgoing message for the given channel
func newMessage(channel, msgType, clientID, username string, content any) (*Message, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			Username: username,
			Session:  clientID,
			MsgType:  msgType,
			Version:  protocolVersion,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
		},
		ParentHeader: json.RawMessage("{}"),
		Metadata:     map[string]any{},
		Content:      body,
		Channel:      channel,
		Buffers:      []any{},
	}, nil
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}
