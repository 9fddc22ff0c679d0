package reporter

import (
	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// Journal appends every event to an event journal.
type Journal struct {
	journal persistence.EventJournal
	logger  *zap.Logger
	failed  int
}

// NewJournal wraps j. The journal is closed with the reporter.
func NewJournal(j persistence.EventJournal, logger *zap.Logger) *Journal {
	return &Journal{journal: j, logger: logger}
}

func (r *Journal) Name() string { return "journal" }

func (r *Journal) Report(e models.Event) {
	if err := r.journal.Append(e.Record()); err != nil {
		r.failed++
		// First failure, then every hundredth.
		if r.failed%100 == 1 {
			r.logger.Error("Failed to journal event", zap.String("type", string(e.Type)), zap.Int("failures", r.failed), zap.Error(err))
		}
	}
}

func (r *Journal) Close() error {
	return r.journal.Close()
}
