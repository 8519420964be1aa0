package psk

import "errors"

var errInvalidSecretLen = errors.New("psk: secret must be exactly KeySize bytes")
