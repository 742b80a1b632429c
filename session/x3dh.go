package session

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/identity"
)

var x3dhInfo = []byte("mepassa-x3dh-root")

// AgreementResult is the outcome of an extended triple-Diffie-Hellman key
// agreement: the shared root secret both sides now hold. The initiator's
// fresh ephemeral public key, which the responder needs in order to derive
// the same value, is returned separately by InitiatorAgree.
type AgreementResult struct {
	RootSecret [32]byte
}

// InitiatorAgree runs the initiator's half of X3DH against a peer's prekey
// bundle, producing the root secret the ratchet will be seeded with. The
// caller is responsible for transmitting ephemeralPublic and the consumed
// bundle's one-time key id to the peer so it can run ResponderAgree.
//
// When simplified is true (Options.SimplifiedAgreement), the two
// DH terms that mix in either side's long-term identity key are dropped,
// leaving only the fresh ephemeral key mixed with the peer's medium-term
// and one-time keys — interop with peers that don't carry a DH-capable
// identity key.
func InitiatorAgree(self *identity.Identity, peerIdentityDH [32]byte, bundle *identity.Bundle, simplified bool) (result AgreementResult, ephemeralPublic [32]byte, err error) {
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return result, ephemeralPublic, fmt.Errorf("session: generate ephemeral key: %w", err)
	}

	dh3, err := crypto.DeriveSharedSecret(bundle.MediumTermPublic, ephemeral.Private)
	if err != nil {
		return result, ephemeralPublic, fmt.Errorf("session: x3dh dh3: %w", err)
	}
	dh4, err := crypto.DeriveSharedSecret(bundle.OneTimePublic, ephemeral.Private)
	if err != nil {
		return result, ephemeralPublic, fmt.Errorf("session: x3dh dh4: %w", err)
	}

	var sk [32]byte
	if simplified {
		sk = kdfX3DH(dh3, dh4, [32]byte{}, [32]byte{})
	} else {
		dh1, err := crypto.DeriveSharedSecret(bundle.MediumTermPublic, self.DH.Private)
		if err != nil {
			return result, ephemeralPublic, fmt.Errorf("session: x3dh dh1: %w", err)
		}
		dh2, err := crypto.DeriveSharedSecret(peerIdentityDH, ephemeral.Private)
		if err != nil {
			return result, ephemeralPublic, fmt.Errorf("session: x3dh dh2: %w", err)
		}
		sk = kdfX3DH(dh1, dh2, dh3, dh4)
	}

	return AgreementResult{RootSecret: sk}, ephemeral.Public, nil
}

// ResponderAgree runs the responder's half of X3DH: mediumTerm and
// oneTime are the private keypairs behind the bundle the initiator
// consumed (fetched from the identity's PreKeyStore by the caller),
// peerIdentityDH and peerEphemeralPublic come from the initiator's first
// message.
func ResponderAgree(self *identity.Identity, peerIdentityDH, peerEphemeralPublic [32]byte, mediumTerm, oneTime *crypto.KeyPair, simplified bool) (AgreementResult, error) {
	dh3, err := crypto.DeriveSharedSecret(peerEphemeralPublic, mediumTerm.Private)
	if err != nil {
		return AgreementResult{}, fmt.Errorf("session: x3dh dh3: %w", err)
	}
	dh4, err := crypto.DeriveSharedSecret(peerEphemeralPublic, oneTime.Private)
	if err != nil {
		return AgreementResult{}, fmt.Errorf("session: x3dh dh4: %w", err)
	}

	var sk [32]byte
	if simplified {
		sk = kdfX3DH(dh3, dh4, [32]byte{}, [32]byte{})
	} else {
		dh1, err := crypto.DeriveSharedSecret(peerIdentityDH, mediumTerm.Private)
		if err != nil {
			return AgreementResult{}, fmt.Errorf("session: x3dh dh1: %w", err)
		}
		dh2, err := crypto.DeriveSharedSecret(peerEphemeralPublic, self.DH.Private)
		if err != nil {
			return AgreementResult{}, fmt.Errorf("session: x3dh dh2: %w", err)
		}
		sk = kdfX3DH(dh1, dh2, dh3, dh4)
	}

	return AgreementResult{RootSecret: sk}, nil
}

func kdfX3DH(dh1, dh2, dh3, dh4 [32]byte) [32]byte {
	input := make([]byte, 0, 4*32)
	input = append(input, dh1[:]...)
	input = append(input, dh2[:]...)
	input = append(input, dh3[:]...)
	input = append(input, dh4[:]...)

	r := hkdf.New(sha256.New, input, nil, x3dhInfo)
	var out [32]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		panic("session: hkdf expand failed: " + err.Error())
	}
	return out
}
