package auth

import (
	"context"
	"errors"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage"
)

// LoginStart answers a KE1 message and opens a handshake session. The reply
// is structurally identical whether or not the subject exists: unknown
// subjects (and subjects without an envelope) get a deterministic fake
// record, and a session is created either way, so neither the response
// shape nor the session ID reveals anything.
func (f *Flow) LoginStart(ctx context.Context, ref string, ke1 []byte) (sessionID string, ke2 []byte, err error) {
	err = f.guard.Run(ctx, func() error {
		ns := f.policy.Namespace()

		var (
			subjectID string
			identity  []byte
			payload   []byte
			credRef   = ref
		)
		subject, rerr := f.policy.Resolve(ref)
		switch {
		case errors.Is(rerr, ErrUnknownSubject):
			// Fall through to the fake-record path with the raw
			// reference as the credential-ID input.
		case rerr != nil:
			return rerr
		default:
			subjectID = subject.ID
			identity = subject.Identity
			credRef = subject.ID
			env, eerr := f.envelopes.Get(ns, subject.ID)
			switch {
			case errors.Is(eerr, storage.ErrNotFound):
				// Subject record without an envelope: treat like an
				// unknown subject so the two are not distinguishable
				// either. The empty subject ID marks the handshake
				// fake — its finish can never issue a credential.
				subjectID = ""
			case eerr != nil:
				return eerr
			default:
				identity = env.Identity
				payload = env.Payload
			}
		}

		credID, err := f.provider.DeriveCredentialID(ns, credRef)
		if err != nil {
			return err
		}

		response, akeState, err := f.provider.LoginResponse(ke1, credID, identity, payload)
		if err != nil {
			return err
		}
		defer util.WipeBytes(akeState)

		// A session is created even on the fake path. Its finish can only
		// ever fail, but its existence and TTL behavior are identical to
		// a real one.
		sess, err := f.sessions.Create(f.policy.Kind(), subjectID, akeState)
		if err != nil {
			return err
		}

		sessionID = sess.ID
		ke2 = response
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return sessionID, ke2, nil
}

// LoginFinish verifies the client's KE3 message and, on success, issues the
// subject's credential via the policy. The session is consumed exactly
// once: the claim is an atomic terminal transition, so a concurrent or
// replayed finish observes a terminal session and fails.
func (f *Flow) LoginFinish(ctx context.Context, sessionID string, ke3 []byte) (*Credential, error) {
	var cred *Credential
	err := f.guard.Run(ctx, func() error {
		sess, err := f.sessions.Claim(sessionID)
		if err != nil {
			return err
		}

		sessionKey, ferr := f.provider.LoginFinish(sess.AKEState, ke3)
		util.WipeBytes(sess.AKEState)
		if ferr != nil || sess.SubjectID == "" {
			if cerr := f.sessions.Complete(sess, SessionFailed); cerr != nil {
				f.logger.Warn("recording failed handshake", "error", cerr)
			}
			if ferr == nil || errors.Is(ferr, ErrAuthenticationFailed) {
				return ErrAuthenticationFailed
			}
			return ferr
		}
		defer util.WipeBytes(sessionKey)

		issued, err := f.policy.Issue(ctx, sess.SubjectID, sessionKey)
		if err != nil {
			if cerr := f.sessions.Complete(sess, SessionFailed); cerr != nil {
				f.logger.Warn("recording failed handshake", "error", cerr)
			}
			return err
		}

		if err := f.sessions.Complete(sess, SessionFinished); err != nil {
			// The claim already consumed the session; the credential is
			// valid even if the bookkeeping write lost.
			f.logger.Warn("recording finished handshake", "error", err)
		}
		cred = issued
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}
