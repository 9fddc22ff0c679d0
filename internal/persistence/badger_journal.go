package persistence

import (
	"encoding/binary"
	"fmt"
	"math"

	"liquidation-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var eventPrefix = []byte("event/")

// sequenceBandwidth is how many sequence numbers badger leases at a time.
const sequenceBandwidth = 128

// badgerJournal stores records under "event/<big-endian sequence>", so key
// order is append order.
type badgerJournal struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerJournal opens the journal at dbPath. An empty path keeps the
// journal in memory.
func NewBadgerJournal(dbPath string) (EventJournal, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq/event"), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal sequence: %w", err)
	}

	return &badgerJournal{db: db, seq: seq}, nil
}

func (j *badgerJournal) Append(record models.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	n, err := j.seq.Next()
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(n), data)
	})
}

func (j *badgerJournal) Session(id string) ([]models.EventRecord, error) {
	var out []models.EventRecord
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(eventPrefix); it.ValidForPrefix(eventPrefix); it.Next() {
			var record models.EventRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			if record.Session == id {
				out = append(out, record)
			}
		}
		return nil
	})
	return out, err
}

func (j *badgerJournal) Last(n int) ([]models.EventRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	var out []models.EventRecord
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= the seek key.
		for it.Seek(eventKey(math.MaxUint64)); it.ValidForPrefix(eventPrefix) && len(out) < n; it.Next() {
			var record models.EventRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Close releases the sequence lease and closes the database.
func (j *badgerJournal) Close() error {
	if err := j.seq.Release(); err != nil {
		j.db.Close()
		return err
	}
	return j.db.Close()
}

func eventKey(n uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], n)
	return key
}
