// Package protocol defines the wire envelopes exchanged over the
// message bus and the player gateway.
package protocol

import "encoding/json"

const Version = "1.0"

// Broker message types.
const (
	TypeTownUpdate    = "TOWN_UPDATE"
	TypeTownDelete    = "TOWN_DELETE"
	TypeInviteRequest = "INVITE_REQUEST"
	TypeClaimUpdate   = "CLAIM_UPDATE"
	TypeClaimDelete   = "CLAIM_DELETE"
)

// Target scopes.
const (
	TargetAll    = "ALL"
	TargetServer = "SERVER"
	TargetPlayer = "PLAYER"
)

// Target selects which peers the relay fans a message out to. Selector
// is empty for ALL, a server name for SERVER, a player name for PLAYER.
type Target struct {
	Scope    string `json:"scope"`
	Selector string `json:"selector,omitempty"`
}

// Message is the broker envelope. Payload is opaque to the bus; each
// type documents its own payload shape. Origin is the sending server
// so receivers can skip their own broadcasts.
type Message struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Origin          string          `json:"origin"`
	Target          Target          `json:"target"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// NewMessage builds an envelope with an encoded payload. Town ids
// travel as bare integers, invites and claims as objects.
func NewMessage(msgType, origin string, target Target, payload any) (Message, error) {
	m := Message{
		Type:            msgType,
		ProtocolVersion: Version,
		Origin:          origin,
		Target:          target,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		m.Payload = b
	}
	return m, nil
}

// Encode renders the envelope for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a full envelope.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}

// IntPayload reads the payload as a bare integer.
func (m Message) IntPayload() (int64, error) {
	var v int64
	err := json.Unmarshal(m.Payload, &v)
	return v, err
}

// DecodePayload unmarshals the payload into out.
func (m Message) DecodePayload(out any) error {
	return json.Unmarshal(m.Payload, out)
}
