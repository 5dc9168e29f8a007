package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/logger"
)

// PartialSaver persists the accumulated content of an interrupted turn
type PartialSaver interface {
	SavePartial(ctx context.Context, conversationID int64, content, model, thinking string) error
}

const partialSaveTimeout = 10 * time.Second

// Runner binds a decode loop to one reconstruction session. Cancellation
// and transport errors both route through the best-effort partial save;
// the server-side turn is not told about client abandonment.
type Runner struct {
	ConversationID int64
	Session        *blocks.Session
	Saver          PartialSaver
}

// Run consumes the stream until it completes, errors, or the context is
// cancelled. On the two non-success paths the partial content that
// accumulated is handed to the saver on a detached goroutine whose
// failure is only logged, never propagated.
func (r *Runner) Run(ctx context.Context, body io.Reader) error {
	err := Decode(ctx, body, HandlerFunc{
		EventFunc: func(env envelope.Envelope) error {
			r.Session.Apply(env)
			return nil
		},
		CompleteFunc: func() error {
			r.Session.Finish()
			return nil
		},
		ErrorFunc: func(err error) {
			if errors.Is(err, ErrCancelled) {
				r.Session.Cancel()
				r.Session.SealCancelled()
				return
			}
			r.Session.Fail(err)
		},
	})

	if err != nil {
		r.savePartial()
	}
	return err
}

// savePartial fires the one-shot detached save. Nothing waits on it: an
// interrupted turn must never block on persistence.
func (r *Runner) savePartial() {
	msg := r.Session.Message()
	content := msg.Text()
	thinking := msg.Thinking()
	if content == "" && thinking == "" {
		return
	}
	if r.Saver == nil {
		return
	}

	convID := r.ConversationID
	model := msg.Model
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), partialSaveTimeout)
		defer cancel()
		if err := r.Saver.SavePartial(ctx, convID, content, model, thinking); err != nil {
			logger.Warn("partial save failed for conversation %d: %v", convID, err)
		}
	}()
}
