package ddml

import "errors"

var (
	errShortRead   = errors.New("not enough bytes remaining in input")
	errBadSizeT    = errors.New("size_t length-of-length exceeds 8")
	errGuardFailed = errors.New("squeeze guard mismatch")
	errBadOneof    = errors.New("oneof discriminator outside declared set")
)
