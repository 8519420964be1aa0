package bolt

import "errors"

var errShortBlobList = errors.New("truncated blob list in bolt store")
