package auth

import (
	"fmt"

	"github.com/bytemare/opaque"

	"github.com/daybook-app/daybook/internal/util"
)

// Provider is the server side of the OPAQUE protocol, reduced to the four
// stateless operations the flows need. All inputs and outputs are opaque
// byte strings; intermediate values are key material and are never logged.
type Provider interface {
	// RegistrationResponse evaluates a client registration request for the
	// given credential identifier.
	RegistrationResponse(request, credentialID []byte) ([]byte, error)

	// ValidateRecord checks that an uploaded registration record is
	// well-formed before it is persisted as an envelope.
	ValidateRecord(upload []byte) error

	// LoginResponse answers a KE1 message. A nil envelope selects the
	// fake-record path: the response is computed against a synthetic
	// record derived from credentialID so that unknown subjects are
	// structurally indistinguishable from registered ones. The returned
	// state is the serialized server AKE state needed by LoginFinish.
	LoginResponse(ke1, credentialID, identity, envelope []byte) (ke2, state []byte, err error)

	// LoginFinish verifies a KE3 message against a previously issued AKE
	// state and returns the shared session key.
	LoginFinish(state, ke3 []byte) ([]byte, error)

	// DeriveCredentialID deterministically maps a subject reference to its
	// OPRF credential identifier. Determinism matters twice over: retried
	// registrations must evaluate the same OPRF key, and unknown subjects
	// must receive the same fake record on every attempt.
	DeriveCredentialID(namespace, ref string) ([]byte, error)
}

type opaqueProvider struct {
	conf *opaque.Configuration
	keys *KeyMaterial
}

var _ Provider = (*opaqueProvider)(nil)

// NewProvider wraps the OPAQUE primitive with the given server key material.
func NewProvider(keys *KeyMaterial) Provider {
	return &opaqueProvider{
		conf: opaque.DefaultConfiguration(),
		keys: keys,
	}
}

func (p *opaqueProvider) RegistrationResponse(request, credentialID []byte) ([]byte, error) {
	server, err := p.conf.Server()
	if err != nil {
		return nil, fmt.Errorf("initializing server: %w", err)
	}

	req, err := server.Deserialize.RegistrationRequest(request)
	if err != nil {
		return nil, ErrProtocol
	}

	pks, err := server.Deserialize.DecodeAkePublicKey(p.keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding server public key: %w", err)
	}

	seed, err := p.keys.oprfSeed.Open()
	if err != nil {
		return nil, fmt.Errorf("opening OPRF seed: %w", err)
	}
	defer seed.Destroy()

	resp := server.RegistrationResponse(req, pks, credentialID, seed.Bytes())
	return resp.Serialize(), nil
}

func (p *opaqueProvider) ValidateRecord(upload []byte) error {
	deser, err := p.conf.Deserializer()
	if err != nil {
		return fmt.Errorf("initializing deserializer: %w", err)
	}
	if _, err := deser.RegistrationRecord(upload); err != nil {
		return ErrProtocol
	}
	return nil
}

func (p *opaqueProvider) LoginResponse(ke1, credentialID, identity, envelope []byte) ([]byte, []byte, error) {
	server, err := p.conf.Server()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing server: %w", err)
	}

	sk, err := p.keys.privateKey.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening server private key: %w", err)
	}
	defer sk.Destroy()
	seed, err := p.keys.oprfSeed.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening OPRF seed: %w", err)
	}
	defer seed.Destroy()

	if err := server.SetKeyMaterial(p.keys.ServerID, sk.Bytes(), p.keys.PublicKey, seed.Bytes()); err != nil {
		return nil, nil, fmt.Errorf("setting key material: %w", err)
	}

	req, err := server.Deserialize.KE1(ke1)
	if err != nil {
		return nil, nil, ErrProtocol
	}

	record, err := p.clientRecord(credentialID, identity, envelope)
	if err != nil {
		return nil, nil, err
	}

	ke2, err := server.LoginInit(req, record)
	if err != nil {
		return nil, nil, ErrProtocol
	}

	return ke2.Serialize(), server.SerializeState(), nil
}

// clientRecord builds the record LoginInit evaluates against: the stored
// envelope when one exists, a deterministic synthetic record otherwise.
func (p *opaqueProvider) clientRecord(credentialID, identity, envelope []byte) (*opaque.ClientRecord, error) {
	if envelope == nil {
		fake, err := p.conf.GetFakeRecord(credentialID)
		if err != nil {
			return nil, fmt.Errorf("building fake record: %w", err)
		}
		return fake, nil
	}

	deser, err := p.conf.Deserializer()
	if err != nil {
		return nil, fmt.Errorf("initializing deserializer: %w", err)
	}
	upload, err := deser.RegistrationRecord(envelope)
	if err != nil {
		// The stored envelope no longer parses. Treat it like a missing
		// one rather than exposing a distinct corrupt-envelope response.
		fake, ferr := p.conf.GetFakeRecord(credentialID)
		if ferr != nil {
			return nil, fmt.Errorf("building fake record: %w", ferr)
		}
		return fake, nil
	}

	return &opaque.ClientRecord{
		CredentialIdentifier: credentialID,
		ClientIdentity:       identity,
		RegistrationRecord:   upload,
	}, nil
}

func (p *opaqueProvider) LoginFinish(state, ke3 []byte) ([]byte, error) {
	server, err := p.conf.Server()
	if err != nil {
		return nil, fmt.Errorf("initializing server: %w", err)
	}
	if err := server.SetAKEState(state); err != nil {
		return nil, ErrProtocol
	}

	msg, err := server.Deserialize.KE3(ke3)
	if err != nil {
		return nil, ErrProtocol
	}

	if err := server.LoginFinish(msg); err != nil {
		return nil, ErrAuthenticationFailed
	}

	return server.SessionKey(), nil
}

func (p *opaqueProvider) DeriveCredentialID(namespace, ref string) ([]byte, error) {
	seed, err := p.keys.credentialSeed.Open()
	if err != nil {
		return nil, fmt.Errorf("opening credential seed: %w", err)
	}
	defer seed.Destroy()

	return util.HKDF(seed.Bytes(), nil, []byte("credential-id:"+namespace+":"+ref))
}
