package session

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyen4320/JSSCanner-sub001/internal/hooktrace"
)

// DefaultBufferSize is the per-session event queue length.
const DefaultBufferSize = 256

// Result is the outcome of one session after its events are exhausted.
type Result struct {
	Key     string
	Session *Session
	Report  FinalReport
}

// Runner demultiplexes one event stream by session key. Each session gets its
// own tracker, detector and goroutine; nothing is shared between them, and
// results are merged only after every session has finished. A SESSION_END
// event stops the session's goroutine early.
type Runner struct {
	cfg        Config
	logger     *zap.Logger
	bufferSize int
}

// NewRunner builds a runner. cfg is the template for every session; its ID is
// ignored.
func NewRunner(cfg Config, bufferSize int, logger *zap.Logger) *Runner {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("runner"), bufferSize: bufferSize}
}

type worker struct {
	key     string
	session *Session
	events  chan hooktrace.Event
}

// Run consumes events until the channel is closed, then returns one result per
// session sorted by key. A key reused after SESSION_END yields one result per
// session, oldest first. Cancelling ctx stops all sessions and returns the
// context error.
func (r *Runner) Run(ctx context.Context, events <-chan hooktrace.Event) ([]Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	workers := make(map[string]*worker)
	var ended []*worker

	start := func(key string) *worker {
		cfg := r.cfg
		cfg.ID = ""
		w := &worker{
			key:     key,
			session: New(cfg, r.logger),
			events:  make(chan hooktrace.Event, r.bufferSize),
		}
		workers[key] = w
		r.logger.Debug("Starting session.", zap.String("key", key), zap.String("session_id", w.session.ID()))
		g.Go(func() error {
			for {
				select {
				case ev, ok := <-w.events:
					if !ok {
						return nil
					}
					w.session.Observe(ev)
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
		return w
	}

	dispatchErr := func() error {
		defer func() {
			for _, w := range workers {
				close(w.events)
			}
		}()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				w, exists := workers[ev.Session]
				if ev.IsSessionEnd() {
					if exists {
						close(w.events)
						delete(workers, ev.Session)
						ended = append(ended, w)
						r.logger.Debug("Session ended.", zap.String("key", ev.Session))
					}
					continue
				}
				if !exists {
					w = start(ev.Session)
				}
				select {
				case w.events <- ev:
				case <-gctx.Done():
					return gctx.Err()
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	}()

	waitErr := g.Wait()
	if dispatchErr != nil {
		return nil, fmt.Errorf("dispatch events: %w", dispatchErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("run sessions: %w", waitErr)
	}

	results := make([]Result, 0, len(ended)+len(workers))
	for _, w := range ended {
		results = append(results, Result{Key: w.key, Session: w.session, Report: w.session.FinalReport()})
	}
	for key, w := range workers {
		results = append(results, Result{Key: key, Session: w.session, Report: w.session.FinalReport()})
	}
	// Stable: ended sessions keep their order and precede a reused key's open
	// session.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	r.logger.Info("All sessions finished.", zap.Int("sessions", len(results)))
	return results, nil
}
