package id

import "errors"

var (
	errShortIdentifier   = errors.New("identifier: not enough bytes")
	errBadIdentifierTag  = errors.New("identifier: unknown tag")
	errUnknownExchange   = errors.New("identity: unknown peer for key exchange")
	errPskHasNoExchange  = errors.New("identity: psk identifiers do not support key exchange")
	errSignatureRequired = errors.New("identity: ed25519 signature verification failed")
)
