package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/fintera-sign/internal/models"
)

// Agreement events
const (
	EventSend   = "send"
	EventSign   = "sign"
	EventCancel = "cancel"
	EventExpire = "expire"
)

// ErrTransitionNotAllowed is returned when the event is not legal from the current status
var ErrTransitionNotAllowed = errors.New("transition not allowed")

// AgreementFSM wraps an agreement with its state machine
type AgreementFSM struct {
	agreement *models.Agreement
	fsm       *fsm.FSM
}

// NewAgreementFSM creates a new agreement state machine
func NewAgreementFSM(agreement *models.Agreement) *AgreementFSM {
	afsm := &AgreementFSM{
		agreement: agreement,
	}

	draft := string(models.AgreementStatusDraft)
	sent := string(models.AgreementStatusSent)

	afsm.fsm = fsm.NewFSM(
		string(agreement.Status),
		fsm.Events{
			// draft → sent
			{Name: EventSend, Src: []string{draft}, Dst: sent},

			// sent → signed
			{Name: EventSign, Src: []string{sent}, Dst: string(models.AgreementStatusSigned)},

			// draft/sent → cancelled
			{Name: EventCancel, Src: []string{draft, sent}, Dst: string(models.AgreementStatusCancelled)},

			// sent → expired
			{Name: EventExpire, Src: []string{sent}, Dst: string(models.AgreementStatusExpired)},
		},
		fsm.Callbacks{},
	)

	return afsm
}

// Send transitions the agreement to sent
func (a *AgreementFSM) Send(ctx context.Context) error {
	if !a.agreement.MaySend() {
		return a.notAllowed(EventSend)
	}
	return a.fire(ctx, EventSend)
}

// Sign transitions the agreement to signed
func (a *AgreementFSM) Sign(ctx context.Context) error {
	if !a.agreement.MaySign() {
		return a.notAllowed(EventSign)
	}
	return a.fire(ctx, EventSign)
}

// Cancel transitions the agreement to cancelled
func (a *AgreementFSM) Cancel(ctx context.Context) error {
	if !a.agreement.MayCancel() {
		return a.notAllowed(EventCancel)
	}
	return a.fire(ctx, EventCancel)
}

// Expire transitions the agreement to expired
func (a *AgreementFSM) Expire(ctx context.Context) error {
	return a.fire(ctx, EventExpire)
}

// Current returns the current state
func (a *AgreementFSM) Current() models.AgreementStatus {
	return models.AgreementStatus(a.fsm.Current())
}

// Can checks if a transition is possible
func (a *AgreementFSM) Can(event string) bool {
	return a.fsm.Can(event)
}

func (a *AgreementFSM) fire(ctx context.Context, event string) error {
	if !a.fsm.Can(event) {
		return a.notAllowed(event)
	}
	if err := a.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("failed to %s agreement: %w", event, err)
	}
	a.agreement.Status = models.AgreementStatus(a.fsm.Current())
	return nil
}

func (a *AgreementFSM) notAllowed(event string) error {
	return fmt.Errorf("%w: cannot %s agreement in status %s", ErrTransitionNotAllowed, event, a.agreement.Status)
}
