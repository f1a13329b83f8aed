package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/daybook-app/daybook/storage"
)

// RegisterStart answers the first registration message. The subject must
// already exist — flows never create subjects. Unless replace is set, a
// subject with an active envelope is rejected with ErrAlreadyRegistered.
func (f *Flow) RegisterStart(ctx context.Context, ref string, request []byte, replace bool) ([]byte, error) {
	var response []byte
	err := f.guard.Run(ctx, func() error {
		subject, err := f.policy.Resolve(ref)
		if err != nil {
			return err
		}

		if !replace {
			if _, err := f.envelopes.Get(f.policy.Namespace(), subject.ID); err == nil {
				return ErrAlreadyRegistered
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		credID, err := f.provider.DeriveCredentialID(f.policy.Namespace(), subject.ID)
		if err != nil {
			return err
		}
		response, err = f.provider.RegistrationResponse(request, credID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// RegisterFinish validates the client's registration record and persists it
// as the subject's envelope. Duplicate finishes race on the CAS create and
// the loser gets ErrEnvelopeExists; with replace set, the swap is atomic
// against the envelope loaded within this call.
func (f *Flow) RegisterFinish(ctx context.Context, ref string, upload []byte, replace bool) error {
	return f.guard.Run(ctx, func() error {
		subject, err := f.policy.Resolve(ref)
		if err != nil {
			return err
		}

		if err := f.provider.ValidateRecord(upload); err != nil {
			return err
		}

		credID, err := f.provider.DeriveCredentialID(f.policy.Namespace(), subject.ID)
		if err != nil {
			return err
		}

		env := &Envelope{
			SubjectID:    subject.ID,
			CredentialID: credID,
			Identity:     subject.Identity,
			Payload:      upload,
			CreatedAt:    f.now().UTC(),
		}

		ns := f.policy.Namespace()
		prior, err := f.envelopes.Get(ns, subject.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return f.envelopes.Create(ns, env)
		case err != nil:
			return err
		case !replace:
			return ErrEnvelopeExists
		default:
			if err := f.envelopes.Replace(ns, prior, env); err != nil {
				return fmt.Errorf("replacing envelope for %s: %w", string(f.policy.Kind()), err)
			}
			return nil
		}
	})
}
