package health

import "errors"

var errMinioOffline = errors.New("object storage endpoint is offline")
