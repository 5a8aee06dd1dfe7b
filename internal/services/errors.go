package services

import (
	"errors"
	"fmt"

	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/statemachine"
)

// Common service errors
var (
	ErrNotFound     = errors.New("registro no encontrado")
	ErrValidation   = errors.New("datos inválidos")
	ErrPrecondition = errors.New("condición previa no cumplida")
	ErrInvalidState = errors.New("transición de estado inválida")
	ErrExpired      = errors.New("el plazo para firmar ha vencido")
	ErrConflict     = errors.New("el acuerdo fue modificado por otra operación, intente de nuevo")
	ErrDelivery     = errors.New("no se pudo enviar la notificación")
	ErrAuditAppend  = errors.New("no se pudo registrar la auditoría")
)

// ValidationError reports the offending field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func preconditionError(msg string) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, msg)
}

func invalidStateError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, msg)
}

// translateError maps repository and state machine errors onto service errors.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrAuditAppend):
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	case errors.Is(err, statemachine.ErrTransitionNotAllowed):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}
