package errs

import "errors"

// Connection-manager failure kinds. A caller distinguishes these with
// errors.Is against the wrapped error returned by connmgr.Manager.Connect.
var (
	// ErrUnreachable indicates every connection strategy (direct,
	// hole-punch, relay) was exhausted without success. This is the cue
	// for the message handler to fall back to the offline broker.
	ErrUnreachable = errors.New("connmgr: peer unreachable")

	// ErrRelayFull indicates a relay server rejected a connection for
	// lack of capacity. Callers retry another relay before classifying
	// the attempt as ErrUnreachable.
	ErrRelayFull = errors.New("connmgr: relay full")

	// ErrHandshakeFailed indicates secure-channel negotiation with a peer
	// failed after a connection was otherwise established.
	ErrHandshakeFailed = errors.New("connmgr: handshake failed")

	// ErrProtocolUnsupported indicates the remote peer responded with an
	// incompatible protocol version.
	ErrProtocolUnsupported = errors.New("connmgr: protocol unsupported")
)

// Crypto/session failure kinds.
var (
	// ErrDecryptFailed indicates a received ciphertext failed to decrypt
	// under the current session ratchet state.
	ErrDecryptFailed = errors.New("crypto: decrypt failed")

	// ErrSignatureInvalid indicates a prekey bundle or handshake message
	// carried a signature that did not verify.
	ErrSignatureInvalid = errors.New("crypto: signature invalid")
)
