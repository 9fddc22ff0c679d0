// Package reporter turns session events into logs, metrics, a websocket
// stream and a persistent journal.
package reporter

import (
	"sync"
	"sync/atomic"

	"liquidation-bot-go/internal/models"

	"go.uber.org/zap"
)

// Reporter consumes events. Report is called from a single goroutine.
type Reporter interface {
	Name() string
	Report(e models.Event)
	Close() error
}

type queue struct {
	reporter Reporter
	events   chan models.Event
	dropped  atomic.Uint64
}

// Fanout copies every event to each reporter through its own bounded queue,
// so a slow reporter never holds up the session or the other reporters.
type Fanout struct {
	queues []*queue
	logger *zap.Logger
}

// NewFanout creates a fanout with queueSize buffered events per reporter.
func NewFanout(queueSize int, logger *zap.Logger, reporters ...Reporter) *Fanout {
	if queueSize <= 0 {
		queueSize = 1
	}
	f := &Fanout{logger: logger}
	for _, r := range reporters {
		f.queues = append(f.queues, &queue{reporter: r, events: make(chan models.Event, queueSize)})
	}
	return f
}

// Run dispatches events until the channel is closed, then drains every queue
// and closes the reporters.
func (f *Fanout) Run(events <-chan models.Event) {
	var wg sync.WaitGroup
	for _, q := range f.queues {
		wg.Add(1)
		go func(q *queue) {
			defer wg.Done()
			for e := range q.events {
				q.reporter.Report(e)
			}
		}(q)
	}

	for e := range events {
		for _, q := range f.queues {
			select {
			case q.events <- e:
			default:
				if q.dropped.Add(1) == 1 {
					f.logger.Warn("Reporter is falling behind, dropping events", zap.String("reporter", q.reporter.Name()))
				}
			}
		}
	}

	for _, q := range f.queues {
		close(q.events)
	}
	wg.Wait()

	for _, q := range f.queues {
		if n := q.dropped.Load(); n > 0 {
			f.logger.Warn("Reporter dropped events", zap.String("reporter", q.reporter.Name()), zap.Uint64("dropped", n))
		}
		if err := q.reporter.Close(); err != nil {
			f.logger.Error("Failed to close reporter", zap.String("reporter", q.reporter.Name()), zap.Error(err))
		}
	}
}

// Dropped returns how many events the named reporter missed.
func (f *Fanout) Dropped(name string) uint64 {
	for _, q := range f.queues {
		if q.reporter.Name() == name {
			return q.dropped.Load()
		}
	}
	return 0
}
