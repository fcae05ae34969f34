package conversation

import (
	"context"

	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/apperr"
	"github.com/m3rciful/drawbot/internal/registration"
	"github.com/m3rciful/drawbot/internal/validation"
)

// Conversation states.
const (
	StateIdle             = state.StateIdle
	StateAwaitingDocument state.State = "awaiting_document"
	StateAwaitingFullName state.State = "awaiting_full_name"
	StateAwaitingPhone    state.State = "awaiting_phone"
	StateAwaitingHandle   state.State = "awaiting_handle"
	StateCompleted        state.State = "completed"
)

// Collected field names.
const (
	FieldDocumentIDs = "documentIds"
	FieldFullName    = "fullName"
	FieldPhone       = "phone"
	FieldHandle      = "handle"
)

const tempIDs = "ids"

// Registry is the registration backend as the steps use it.
type Registry interface {
	Lookup(ctx context.Context, number string) (registration.Identifiers, error)
	UpdateField(ctx context.Context, ids registration.Identifiers, field, value string) (registration.UpdateResult, error)
}

// HandleVerifier confirms that a handle belongs to a real account.
type HandleVerifier interface {
	Verify(ctx context.Context, handle string) (bool, error)
}

func documentStep(reg Registry, length int) StepFunc {
	rule := validation.DocumentNumber(length)
	return func(ctx context.Context, in StepInput) (StepResult, error) {
		out := rule(in.Text)
		if !out.OK() {
			return StepResult{}, out.Err()
		}
		ids, err := reg.Lookup(ctx, out.Value)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Field: FieldDocumentIDs, Value: string(ids), IDs: ids, Next: StateAwaitingFullName}, nil
	}
}

// fieldStep validates input and stores it under backendField.
func fieldStep(reg Registry, rule validation.Rule, field, backendField string, next state.State) StepFunc {
	return func(ctx context.Context, in StepInput) (StepResult, error) {
		out := rule(in.Text)
		if !out.OK() {
			return StepResult{}, out.Err()
		}
		if _, err := reg.UpdateField(ctx, in.IDs, backendField, out.Value); err != nil {
			return StepResult{}, err
		}
		return StepResult{Field: field, Value: out.Value, Next: next}, nil
	}
}

func handleStep(reg Registry, verifier HandleVerifier) StepFunc {
	return func(ctx context.Context, in StepInput) (StepResult, error) {
		out := validation.Handle(in.Text)
		if !out.OK() {
			return StepResult{}, out.Err()
		}
		ok, err := verifier.Verify(ctx, out.Value)
		if err != nil {
			return StepResult{}, err
		}
		if !ok {
			return StepResult{}, apperr.New(apperr.KindHandleInvalid, "handle.verify", nil)
		}
		res, err := reg.UpdateField(ctx, in.IDs, registration.FieldInstagram, out.Value)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Field: FieldHandle, Value: out.Value, Next: StateCompleted, Number: res.Number}, nil
	}
}

func buildSteps(reg Registry, verifier HandleVerifier, docLength int) map[state.State]StepFunc {
	return map[state.State]StepFunc{
		StateAwaitingDocument: documentStep(reg, docLength),
		StateAwaitingFullName: fieldStep(reg, validation.FullName, FieldFullName, registration.FieldName, StateAwaitingPhone),
		StateAwaitingPhone:    fieldStep(reg, validation.Phone, FieldPhone, registration.FieldTelephone, StateAwaitingHandle),
		StateAwaitingHandle:   handleStep(reg, verifier),
	}
}

var prompts = map[state.State]string{
	StateAwaitingDocument: promptDocument,
	StateAwaitingFullName: promptFullName,
	StateAwaitingPhone:    promptPhone,
	StateAwaitingHandle:   promptHandle,
}

func awaiting(s state.State) bool {
	_, ok := prompts[s]
	return ok
}
