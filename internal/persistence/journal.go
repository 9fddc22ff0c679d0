package persistence

import "liquidation-bot-go/internal/models"

// EventJournal is an append-only log of bot events. It is an audit trail:
// nothing is restored from it when the bot starts.
type EventJournal interface {
	// Append stores a record after every record appended before it.
	Append(record models.EventRecord) error

	// Session returns the records of one session in append order.
	Session(id string) ([]models.EventRecord, error)

	// Last returns up to n of the most recent records, oldest first.
	Last(n int) ([]models.EventRecord, error)

	// Close flushes and closes the underlying storage.
	Close() error
}
