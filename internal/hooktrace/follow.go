package hooktrace

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// Follower tails a trace file that the hook layer is still writing.
type Follower struct {
	path    string
	decoder *Decoder
	logger  *zap.Logger
	// fromStart replays existing content before following new lines.
	fromStart bool
}

// NewFollower prepares to follow path. With fromStart false only lines written
// after Run starts are read.
func NewFollower(path string, fromStart bool, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{
		path:      path,
		decoder:   NewDecoder(),
		logger:    logger.Named("hooktrace_follower"),
		fromStart: fromStart,
	}
}

// Run sends decoded events to out until ctx is cancelled or the tailer stops.
// It does not close out.
func (f *Follower) Run(ctx context.Context, out chan<- Event) error {
	whence := 2
	if f.fromStart {
		whence = 0
	}
	t, err := tail.TailFile(f.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail trace file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	f.logger.Info("Following trace file.", zap.String("path", f.path))
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Stopping trace follower.")
			return nil

		case line, ok := <-t.Lines:
			if !ok {
				f.logger.Info("Trace tailer channel closed.")
				return nil
			}
			if line.Err != nil {
				f.logger.Warn("Error reading from trace file", zap.Error(line.Err))
				continue
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			ev, err := f.decoder.Decode([]byte(text))
			if err != nil {
				f.logger.Warn("Skipping malformed trace line.", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
