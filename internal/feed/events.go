package feed

import (
	"fmt"

	"paper-trader/internal/models"
)

// Tier identifies which ranked data source is authoritative. TierPrimary is
// the streaming source; positive tiers index the ordered polling fallbacks;
// TierAllDown means no source is healthy.
type Tier int

const (
	TierAllDown Tier = -1
	TierPrimary Tier = 0
)

func (t Tier) String() string {
	switch {
	case t == TierAllDown:
		return "ALL_DOWN"
	case t == TierPrimary:
		return "PRIMARY"
	default:
		return fmt.Sprintf("FALLBACK_%d", int(t)-1)
	}
}

// EventType classifies feed notifications.
type EventType int

const (
	// QuoteUpdated carries a fresh quote from the authoritative tier.
	QuoteUpdated EventType = iota
	// ConnectionChanged reports a state transition of one underlying source.
	ConnectionChanged
	// TierChanged reports a failover or recovery of the authoritative tier.
	TierChanged
)

// Event is a feed notification delivered to subscribers. The core only
// enqueues events; consumers (UI, logging) drive their own rendering.
type Event struct {
	Type   EventType
	Quote  *models.Quote          // QuoteUpdated
	Source string                 // ConnectionChanged
	State  models.ConnectionState // ConnectionChanged
	Tier   Tier                   // TierChanged
}
