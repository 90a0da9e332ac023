package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Payload is any message received over the websocket.
type Payload interface {
	Op() Op
}

// EventPayload is a payload addressed to one player.
type EventPayload interface {
	Payload
	Type() EventType
	GuildID() snowflake.ID
}

type ReadyPayload struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (ReadyPayload) Op() Op { return OpReady }

type PlayerUpdatePayload struct {
	Guild snowflake.ID `json:"guildId"`
	State PlayerState  `json:"state"`
}

func (PlayerUpdatePayload) Op() Op { return OpPlayerUpdate }

type StatsPayload struct {
	Statistics
}

func (StatsPayload) Op() Op { return OpStats }

type TrackStartEvent struct {
	Guild snowflake.ID `json:"guildId"`
	Track Track        `json:"track"`
}

func (TrackStartEvent) Op() Op                  { return OpEvent }
func (e TrackStartEvent) GuildID() snowflake.ID { return e.Guild }
func (TrackStartEvent) Type() EventType         { return EventTrackStart }

type TrackEndEvent struct {
	Guild  snowflake.ID   `json:"guildId"`
	Track  Track          `json:"track"`
	Reason TrackEndReason `json:"reason"`
}

func (TrackEndEvent) Op() Op                  { return OpEvent }
func (e TrackEndEvent) GuildID() snowflake.ID { return e.Guild }
func (TrackEndEvent) Type() EventType         { return EventTrackEnd }

type TrackExceptionEvent struct {
	Guild     snowflake.ID   `json:"guildId"`
	Track     Track          `json:"track"`
	Exception TrackException `json:"exception"`
}

func (TrackExceptionEvent) Op() Op                  { return OpEvent }
func (e TrackExceptionEvent) GuildID() snowflake.ID { return e.Guild }
func (TrackExceptionEvent) Type() EventType         { return EventTrackException }

type TrackStuckEvent struct {
	Guild       snowflake.ID `json:"guildId"`
	Track       Track        `json:"track"`
	ThresholdMs int64        `json:"thresholdMs"`
}

func (TrackStuckEvent) Op() Op                  { return OpEvent }
func (e TrackStuckEvent) GuildID() snowflake.ID { return e.Guild }
func (TrackStuckEvent) Type() EventType         { return EventTrackStuck }

// Threshold converts the reported stuck threshold.
func (e TrackStuckEvent) Threshold() time.Duration {
	return time.Duration(e.ThresholdMs) * time.Millisecond
}

type WebSocketClosedEvent struct {
	Guild    snowflake.ID `json:"guildId"`
	Code     int          `json:"code"`
	Reason   string       `json:"reason"`
	ByRemote bool         `json:"byRemote"`
}

func (WebSocketClosedEvent) Op() Op                  { return OpEvent }
func (e WebSocketClosedEvent) GuildID() snowflake.ID { return e.Guild }
func (WebSocketClosedEvent) Type() EventType         { return EventWebSocketClosed }

// UnknownPayload keeps payloads with an unrecognised op or event type so
// that extensions can still inspect them.
type UnknownPayload struct {
	RawOp Op
	Data  json.RawMessage
}

func (p UnknownPayload) Op() Op { return p.RawOp }

type header struct {
	Op   Op        `json:"op"`
	Type EventType `json:"type"`
}

// Decode parses one websocket message.
func Decode(data []byte) (Payload, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode payload header: %w", err)
	}

	var p Payload
	switch h.Op {
	case OpReady:
		p = &ReadyPayload{}
	case OpPlayerUpdate:
		p = &PlayerUpdatePayload{}
	case OpStats:
		p = &StatsPayload{}
	case OpEvent:
		switch h.Type {
		case EventTrackStart:
			p = &TrackStartEvent{}
		case EventTrackEnd:
			p = &TrackEndEvent{}
		case EventTrackException:
			p = &TrackExceptionEvent{}
		case EventTrackStuck:
			p = &TrackStuckEvent{}
		case EventWebSocketClosed:
			p = &WebSocketClosedEvent{}
		}
	}

	if p == nil {
		return UnknownPayload{RawOp: h.Op, Data: append(json.RawMessage(nil), data...)}, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", h.Op, err)
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ReadyPayload:
		return *v
	case *PlayerUpdatePayload:
		return *v
	case *StatsPayload:
		return *v
	case *TrackStartEvent:
		return *v
	case *TrackEndEvent:
		return *v
	case *TrackExceptionEvent:
		return *v
	case *TrackStuckEvent:
		return *v
	case *WebSocketClosedEvent:
		return *v
	}
	return p
}
