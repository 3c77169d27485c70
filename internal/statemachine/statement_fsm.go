package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sjperalta/opcost-api/internal/models"
)

// ErrTransitionNotAllowed is returned when the statement status forbids an event
var ErrTransitionNotAllowed = errors.New("transition not allowed")

// Statement lifecycle events
const (
	EventMarkReady  = "mark_ready"
	EventInvalidate = "invalidate"
	EventSend       = "send"
)

// StatementFSM wraps an operating cost statement with its state machine
type StatementFSM struct {
	statement *models.OperatingCostStatement
	fsm       *fsm.FSM
	now       func() time.Time
}

// NewStatementFSM creates a new statement state machine
func NewStatementFSM(statement *models.OperatingCostStatement) *StatementFSM {
	sfsm := &StatementFSM{
		statement: statement,
		now:       time.Now,
	}

	sfsm.fsm = fsm.NewFSM(
		statement.Status,
		fsm.Events{
			// draft → ready (explicit user action)
			{Name: EventMarkReady, Src: []string{models.StatementStatusDraft}, Dst: models.StatementStatusReady},

			// ready → draft (cost item edited after release)
			{Name: EventInvalidate, Src: []string{models.StatementStatusReady}, Dst: models.StatementStatusDraft},

			// ready → sent (first successful delivery)
			{Name: EventSend, Src: []string{models.StatementStatusReady}, Dst: models.StatementStatusSent},
		},
		fsm.Callbacks{
			"enter_" + models.StatementStatusReady: func(_ context.Context, e *fsm.Event) {
				t := sfsm.now()
				sfsm.statement.ReadyAt = &t
			},
			"enter_" + models.StatementStatusSent: func(_ context.Context, e *fsm.Event) {
				t := sfsm.now()
				sfsm.statement.SentAt = &t
			},
			"enter_" + models.StatementStatusDraft: func(_ context.Context, e *fsm.Event) {
				sfsm.statement.ReadyAt = nil
			},
		},
	)

	return sfsm
}

// MarkReady transitions statement to ready state
func (s *StatementFSM) MarkReady(ctx context.Context) error {
	if !s.statement.MayMarkReady() {
		return fmt.Errorf("%w: statement cannot be marked ready in state %s", ErrTransitionNotAllowed, s.statement.Status)
	}
	return s.fire(ctx, EventMarkReady)
}

// Invalidate transitions statement back to draft after a cost edit
func (s *StatementFSM) Invalidate(ctx context.Context) error {
	if !s.statement.MayInvalidate() {
		return fmt.Errorf("%w: statement cannot be invalidated in state %s", ErrTransitionNotAllowed, s.statement.Status)
	}
	return s.fire(ctx, EventInvalidate)
}

// Send transitions statement to sent state
func (s *StatementFSM) Send(ctx context.Context) error {
	if s.statement.Status != models.StatementStatusReady {
		return fmt.Errorf("%w: statement cannot be sent in state %s", ErrTransitionNotAllowed, s.statement.Status)
	}
	return s.fire(ctx, EventSend)
}

func (s *StatementFSM) fire(ctx context.Context, event string) error {
	if err := s.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("failed to %s statement: %w", event, err)
	}
	s.statement.Status = s.fsm.Current()
	return nil
}

// Current returns the current state
func (s *StatementFSM) Current() string {
	return s.fsm.Current()
}

// Can checks if a transition is possible
func (s *StatementFSM) Can(event string) bool {
	return s.fsm.Can(event)
}
