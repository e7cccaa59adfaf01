package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

const (
	DefaultCeremonyTimeout = 30 * time.Second

	relyingPartyName = "Device ID Bootstrap"
	ceremonyUserName = "device-seed"
)

// ErrUnsupported is returned by an Authenticator that cannot perform the
// ceremony on this platform.
var ErrUnsupported = errors.New("platform authenticator not available")

type ceremonyOutcome int

const (
	ceremonyUnsupported ceremonyOutcome = iota
	ceremonyOK
	ceremonyFailed
)

// CeremonyResult is the tagged outcome of a credential ceremony. Callers
// branch on it instead of handling errors.
type CeremonyResult struct {
	outcome ceremonyOutcome
	rawID   []byte
	err     error
}

func CeremonyOK(rawID []byte) CeremonyResult {
	if len(rawID) == 0 {
		return CeremonyFailed(errors.New("authenticator returned an empty credential id"))
	}
	return CeremonyResult{outcome: ceremonyOK, rawID: rawID}
}

func CeremonyUnsupported() CeremonyResult {
	return CeremonyResult{outcome: ceremonyUnsupported}
}

func CeremonyFailed(err error) CeremonyResult {
	return CeremonyResult{outcome: ceremonyFailed, err: err}
}

// RawID returns the credential identifier when the ceremony succeeded.
func (r CeremonyResult) RawID() ([]byte, bool) {
	return r.rawID, r.outcome == ceremonyOK
}

func (r CeremonyResult) Unsupported() bool { return r.outcome == ceremonyUnsupported }

// Err is the failure cause, nil unless the ceremony failed.
func (r CeremonyResult) Err() error { return r.err }

func (r CeremonyResult) String() string {
	switch r.outcome {
	case ceremonyOK:
		return "ok"
	case ceremonyFailed:
		return "failed"
	default:
		return "unsupported"
	}
}

// Authenticator creates a credential for the given options and returns its
// raw identifier.
type Authenticator interface {
	MakeCredential(ctx context.Context, opts *protocol.PublicKeyCredentialCreationOptions) ([]byte, error)
}

// Ceremony runs a credential creation against an authenticator purely to
// obtain a stable, high-entropy identifier. Nothing is verified.
type Ceremony struct {
	Authenticator Authenticator
	RPID          string
	Timeout       time.Duration
}

// Options builds the creation options: platform attachment, resident key
// preferred, ES256 only, no attestation.
func (c *Ceremony) Options() (*protocol.PublicKeyCredentialCreationOptions, error) {
	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}
	userID := make([]byte, 16)
	if _, err := rand.Read(userID); err != nil {
		return nil, fmt.Errorf("create user handle: %w", err)
	}

	rpID := c.RPID
	if rpID == "" {
		rpID = "localhost"
	}

	return &protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: relyingPartyName},
			ID:               rpID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: ceremonyUserName},
			DisplayName:      ceremonyUserName,
			ID:               protocol.URLEncodedBase64(userID),
		},
		Challenge: challenge,
		Parameters: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		},
		Timeout: int(c.timeout().Milliseconds()),
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
		},
		Attestation: protocol.PreferNoAttestation,
	}, nil
}

func (c *Ceremony) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultCeremonyTimeout
	}
	return c.Timeout
}

// Run performs the ceremony. It never returns an error; the result says
// whether an identifier was produced.
func (c *Ceremony) Run(ctx context.Context) CeremonyResult {
	if c == nil || c.Authenticator == nil {
		return CeremonyUnsupported()
	}

	opts, err := c.Options()
	if err != nil {
		return CeremonyFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	rawID, err := c.Authenticator.MakeCredential(ctx, opts)
	switch {
	case errors.Is(err, ErrUnsupported):
		return CeremonyUnsupported()
	case err != nil:
		return CeremonyFailed(err)
	}
	return CeremonyOK(rawID)
}

// SoftwareAuthenticator emulates a platform authenticator with an in-process
// P-256 key pair per credential and a random 32-byte credential id.
type SoftwareAuthenticator struct {
	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

func (a *SoftwareAuthenticator) MakeCredential(ctx context.Context, opts *protocol.PublicKeyCredentialCreationOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !supportsES256(opts.Parameters) {
		return nil, errors.New("no supported public key algorithm requested")
	}
	if opts.AuthenticatorSelection.AuthenticatorAttachment == protocol.CrossPlatform {
		return nil, ErrUnsupported
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate credential key: %w", err)
	}
	rawID := make([]byte, 32)
	if _, err := rand.Read(rawID); err != nil {
		return nil, fmt.Errorf("generate credential id: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		a.keys = make(map[string]*ecdsa.PrivateKey)
	}
	a.keys[string(rawID)] = key
	return rawID, nil
}

// PublicKey returns the public half of a credential this authenticator made.
func (a *SoftwareAuthenticator) PublicKey(rawID []byte) (*ecdsa.PublicKey, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, ok := a.keys[string(rawID)]
	if !ok {
		return nil, false
	}
	return &key.PublicKey, true
}

func supportsES256(params []protocol.CredentialParameter) bool {
	for _, p := range params {
		if p.Type == protocol.PublicKeyCredentialType && p.Algorithm == webauthncose.AlgES256 {
			return true
		}
	}
	return false
}
