// Package relay carries channel chat between sibling game servers: a redis
// pub/sub bridge for server-to-server fanout and a websocket link to the
// proxy process. The membership engine never depends on this package; the
// container wires it when enabled.
package relay

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is one relayed chat line. Origin lets receivers drop their own
// publications echoed back by the broker.
type Envelope struct {
	Origin     string    `json:"origin"`
	ChannelID  string    `json:"channel_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// Handler consumes envelopes arriving from other servers.
type Handler func(envelope *Envelope)
