package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage/memory"
)

// stubProvider drives the flows without real cryptography. State strings
// encode the inputs so tests can assert what the flow passed down.
type stubProvider struct {
	finishKey []byte
	finishErr error

	fakeResponses int
	realResponses int
}

func (p *stubProvider) RegistrationResponse(request, credentialID []byte) ([]byte, error) {
	out := append([]byte("resp:"), credentialID...)
	return append(out, request...), nil
}

func (p *stubProvider) ValidateRecord(upload []byte) error {
	if len(upload) == 0 {
		return ErrProtocol
	}
	return nil
}

func (p *stubProvider) LoginResponse(ke1, credentialID, identity, envelope []byte) ([]byte, []byte, error) {
	if envelope == nil {
		p.fakeResponses++
	} else {
		p.realResponses++
	}
	return append([]byte("ke2:"), credentialID...), append([]byte("state:"), credentialID...), nil
}

func (p *stubProvider) LoginFinish(state, ke3 []byte) ([]byte, error) {
	if p.finishErr != nil {
		return nil, p.finishErr
	}
	return util.CopyBytes(p.finishKey), nil
}

func (p *stubProvider) DeriveCredentialID(namespace, ref string) ([]byte, error) {
	return []byte("cred:" + namespace + ":" + ref), nil
}

type stubPolicy struct {
	subjects map[string]*Subject
	issueErr error
	issued   []string
}

func (p *stubPolicy) Kind() SubjectKind { return SubjectAccount }
func (p *stubPolicy) Namespace() string { return "users" }

func (p *stubPolicy) Resolve(ref string) (*Subject, error) {
	s, ok := p.subjects[ref]
	if !ok {
		return nil, ErrUnknownSubject
	}
	return s, nil
}

func (p *stubPolicy) Issue(_ context.Context, subjectID string, sessionKey []byte) (*Credential, error) {
	if p.issueErr != nil {
		return nil, p.issueErr
	}
	p.issued = append(p.issued, subjectID)
	return &Credential{Kind: SubjectAccount, SubjectID: subjectID, AccessToken: "access-" + subjectID}, nil
}

type flowFixture struct {
	flow     *Flow
	provider *stubProvider
	policy   *stubPolicy
	sessions *HandshakeStore
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	repo := memory.NewRepository()
	key, err := util.NewAESKey()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := NewHandshakeStore(repo, key, time.Minute, logger)
	t.Cleanup(sessions.Close)

	provider := &stubProvider{finishKey: []byte("session-key")}
	policy := &stubPolicy{subjects: map[string]*Subject{
		"alice@example.com": {ID: "user-alice", Identity: []byte("alice@example.com")},
	}}

	flow := NewFlow(provider, policy, NewEnvelopeStore(repo, key), sessions,
		WithTimingFloor(0), WithFlowLogger(logger))
	return &flowFixture{flow: flow, provider: provider, policy: policy, sessions: sessions}
}

func (f *flowFixture) register(t *testing.T, ref string) {
	t.Helper()
	_, err := f.flow.RegisterStart(context.Background(), ref, []byte("reg-request"), false)
	require.NoError(t, err)
	require.NoError(t, f.flow.RegisterFinish(context.Background(), ref, []byte("reg-record"), false))
}

func TestFlow_RegisterStart(t *testing.T) {
	f := newFlowFixture(t)

	resp, err := f.flow.RegisterStart(context.Background(), "alice@example.com", []byte("reg-request"), false)
	require.NoError(t, err)
	assert.Equal(t, []byte("resp:cred:users:user-alicereg-request"), resp)
}

func TestFlow_RegisterStart_UnknownSubject(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.flow.RegisterStart(context.Background(), "nobody@example.com", []byte("reg-request"), false)
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestFlow_RegisterStart_AlreadyRegistered(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	_, err := f.flow.RegisterStart(context.Background(), "alice@example.com", []byte("reg-request"), false)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// The replace flag opts into re-registration.
	_, err = f.flow.RegisterStart(context.Background(), "alice@example.com", []byte("reg-request"), true)
	require.NoError(t, err)
}

func TestFlow_RegisterFinish_DuplicateRejected(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	err := f.flow.RegisterFinish(context.Background(), "alice@example.com", []byte("other-record"), false)
	assert.ErrorIs(t, err, ErrEnvelopeExists)
}

func TestFlow_RegisterFinish_Replace(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	require.NoError(t, f.flow.RegisterFinish(context.Background(), "alice@example.com", []byte("new-record"), true))

	env, err := f.flow.envelopes.Get("users", "user-alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("new-record"), env.Payload)
}

func TestFlow_RegisterFinish_MalformedRecord(t *testing.T) {
	f := newFlowFixture(t)

	err := f.flow.RegisterFinish(context.Background(), "alice@example.com", nil, false)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFlow_Login_Success(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, ke2, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.True(t, bytes.HasPrefix(ke2, []byte("ke2:")))
	assert.Equal(t, 1, f.provider.realResponses)

	cred, err := f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	require.NoError(t, err)
	assert.Equal(t, "user-alice", cred.SubjectID)
	assert.Equal(t, "access-user-alice", cred.AccessToken)
	assert.Equal(t, []string{"user-alice"}, f.policy.issued)
}

func TestFlow_Login_UnknownSubjectGetsFakeHandshake(t *testing.T) {
	f := newFlowFixture(t)

	// The start reply for an unknown subject is structurally identical to a
	// real one: a session ID and a KE2 message.
	sessionID, ke2, err := f.flow.LoginStart(context.Background(), "nobody@example.com", []byte("ke1"))
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.NotEmpty(t, ke2)
	assert.Equal(t, 1, f.provider.fakeResponses)

	// The finish can only fail, even though the stub provider would happily
	// produce a session key.
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Empty(t, f.policy.issued)
}

func TestFlow_Login_RegisteredWithoutEnvelopeGetsFakeHandshake(t *testing.T) {
	f := newFlowFixture(t)

	// Subject exists but never completed registration.
	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.fakeResponses)

	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestFlow_Login_WrongPassword(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	f.provider.finishErr = ErrAuthenticationFailed
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("bad-ke3"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Empty(t, f.policy.issued)
}

func TestFlow_Login_FinishReplayRejected(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	require.NoError(t, err)

	// A finished session is consumed. Replaying the same finish gets the
	// same answer as an unknown session.
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFlow_Login_ConcurrentFinishClaimsOnce(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	// All finishes race on the same session; the claim is an atomic
	// terminal transition, so exactly one can win it.
	const finishers = 16
	errs := make(chan error, finishers)
	var wg sync.WaitGroup
	for i := 0; i < finishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, notFound int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSessionNotFound):
			notFound++
		default:
			t.Fatalf("unexpected finish error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, finishers-1, notFound)
	assert.Equal(t, []string{"user-alice"}, f.policy.issued)
}

func TestFlow_Login_FailedFinishConsumesSession(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	f.provider.finishErr = ErrAuthenticationFailed
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("bad-ke3"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// No second guess against the same handshake.
	f.provider.finishErr = nil
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFlow_Login_ExpiredSession(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	now := time.Now()
	f.sessions.now = func() time.Time { return now.Add(2 * time.Minute) }

	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestFlow_Login_IssueFailureMarksSessionFailed(t *testing.T) {
	f := newFlowFixture(t)
	f.register(t, "alice@example.com")

	sessionID, _, err := f.flow.LoginStart(context.Background(), "alice@example.com", []byte("ke1"))
	require.NoError(t, err)

	f.policy.issueErr = errors.New("token backend down")
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	require.Error(t, err)

	// The handshake succeeded but issuance did not; the session is spent.
	f.policy.issueErr = nil
	_, err = f.flow.LoginFinish(context.Background(), sessionID, []byte("ke3"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
