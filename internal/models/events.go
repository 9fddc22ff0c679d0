package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a published bot event.
type EventType string

const (
	EventError            EventType = "error"
	EventTradersFetched   EventType = "tradersFetched"
	EventTradersChecked   EventType = "tradersChecked"
	EventTraderLiquidated EventType = "traderLiquidated"
	EventBotStopped       EventType = "botStopped"
)

// Event is an immutable record published by a running bot session.
// Which payload fields are set depends on Type.
type Event struct {
	Type    EventType
	Time    time.Time
	Session string

	Traders []Trader    // tradersFetched, tradersChecked
	Trader  Trader      // traderLiquidated
	Tx      common.Hash // traderLiquidated
	Err     error       // error
}

// EventRecord is the serialisable form of an Event.
type EventRecord struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Session string    `json:"session"`
	Traders []string  `json:"traders,omitempty"`
	Trader  string    `json:"trader,omitempty"`
	Tx      string    `json:"tx,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Record converts the event into its serialisable form.
func (e Event) Record() EventRecord {
	r := EventRecord{
		Type:    e.Type,
		Time:    e.Time,
		Session: e.Session,
	}
	if len(e.Traders) > 0 {
		r.Traders = make([]string, len(e.Traders))
		for i, t := range e.Traders {
			r.Traders[i] = t.Hex()
		}
	}
	if e.Type == EventTraderLiquidated {
		r.Trader = e.Trader.Hex()
		r.Tx = e.Tx.Hex()
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}
