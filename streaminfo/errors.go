package streaminfo

import "errors"

var errBadStreamInfo = errors.New("malformed streaminfo field")
