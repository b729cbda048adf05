// Package relay implements the inter-server bus (§4.G): it encodes local
// state changes as events, publishes them on a fan-out exchange, and applies
// inbound events from peers idempotently. It follows the teacher's conn.go
// shape — a buffered outgoing channel drained by one goroutine — applied to
// an AMQP channel instead of a socket.
package relay

import (
	"encoding/json"
	"fmt"
)

// EventType names a relay event per the envelope in SPEC_FULL.md/spec.md §6.
type EventType string

const (
	EventServerHello EventType = "SERVER_HELLO"
	EventServerBye   EventType = "SERVER_BYE"

	EventUserAdd    EventType = "USER_ADD"
	EventUserQuit   EventType = "USER_QUIT"
	EventNickChange EventType = "NICK_CHANGE"
	EventUserMode   EventType = "USER_MODE"

	EventChanJoin  EventType = "CHAN_JOIN"
	EventChanPart  EventType = "CHAN_PART"
	EventChanMode  EventType = "CHAN_MODE"
	EventChanTopic EventType = "CHAN_TOPIC"
	EventChanKick  EventType = "CHAN_KICK"

	EventMessage EventType = "MESSAGE"

	EventBurstBegin EventType = "BURST_BEGIN"
	EventBurstState EventType = "BURST_STATE"
	EventBurstEnd   EventType = "BURST_END"
)

// EnvelopeVersion is the "v" field of every published envelope.
const EnvelopeVersion = 1

// Envelope is the wire format of a relay event: JSON
// { "v": 1, "type": "...", "origin": "<uuid>", "seq": <u64>, "ts": <unix_ms>, "payload": {...} }.
type Envelope struct {
	V       int             `json:"v"`
	Type    EventType       `json:"type"`
	Origin  string          `json:"origin"`
	Seq     uint64          `json:"seq"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an Envelope with payload marshaled from v.
func NewEnvelope(typ EventType, origin string, seq uint64, ts int64, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to marshal payload for %s: %w", typ, err)
	}
	return &Envelope{V: EnvelopeVersion, Type: typ, Origin: origin, Seq: seq, TS: ts, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// UserAddPayload is the payload of a USER_ADD event.
type UserAddPayload struct {
	Nick     string `json:"nick"`
	User     string `json:"user"`
	Host     string `json:"host"`
	RealName string `json:"realname"`
	SignonTS int64  `json:"signon_ts"`
}

// UserQuitPayload is the payload of a USER_QUIT event.
type UserQuitPayload struct {
	Nick   string `json:"nick"`
	Reason string `json:"reason"`
}

// NickChangePayload is the payload of a NICK_CHANGE event.
type NickChangePayload struct {
	OldNick string `json:"old_nick"`
	NewNick string `json:"new_nick"`
}

// UserModePayload is the payload of a USER_MODE event.
type UserModePayload struct {
	Nick  string `json:"nick"`
	Modes string `json:"modes"`
}

// ChanJoinPayload is the payload of a CHAN_JOIN event.
type ChanJoinPayload struct {
	Channel   string `json:"channel"`
	Nick      string `json:"nick"`
	ChannelTS int64  `json:"channel_ts"`
}

// ChanPartPayload is the payload of a CHAN_PART event.
type ChanPartPayload struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	Reason  string `json:"reason"`
}

// ChanModePayload is the payload of a CHAN_MODE event.
type ChanModePayload struct {
	Channel string `json:"channel"`
	Setter  string `json:"setter"`
	Modes   string `json:"modes"`
	Args    []string `json:"args"`
}

// ChanTopicPayload is the payload of a CHAN_TOPIC event.
type ChanTopicPayload struct {
	Channel string `json:"channel"`
	Setter  string `json:"setter"`
	Topic   string `json:"topic"`
}

// ChanKickPayload is the payload of a CHAN_KICK event.
type ChanKickPayload struct {
	Channel string `json:"channel"`
	Kicker  string `json:"kicker"`
	Target  string `json:"target"`
	Reason  string `json:"reason"`
}

// MessagePayload is the payload of a MESSAGE event (PRIVMSG/NOTICE relay).
type MessagePayload struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Command string `json:"command"` // PRIVMSG or NOTICE
	Text    string `json:"text"`
}

// BurstStatePayload is the payload of a BURST_STATE event: one snapshot
// record exchanged during full-state sync on link-up.
type BurstStatePayload struct {
	Users    []UserAddPayload    `json:"users,omitempty"`
	Channels []BurstChannelState `json:"channels,omitempty"`
}

// BurstChannelState describes one channel's membership during a burst.
type BurstChannelState struct {
	Channel   string   `json:"channel"`
	ChannelTS int64    `json:"channel_ts"`
	Topic     string   `json:"topic"`
	Modes     string   `json:"modes"`
	Members   []string `json:"members"` // "nick" or "@nick" etc, rank-prefixed
}
