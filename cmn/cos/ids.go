// Package cos: holder/request ID generation, adapted from aistore's
// cmn/cos/uuid.go (GenUUID/IsValidUUID) but trimmed to what DES needs:
// a short correlation ID per HTTP request and a stable holder ID per
// packer process.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"sync"

	"github.com/teris-io/shortid"
)

const shortIDAbc = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func getSID() *shortid.Shortid {
	sidOnce.Do(func() {
		sid = shortid.MustNew(1, shortIDAbc, 0)
	})
	return sid
}

// GenRequestID returns a short correlation ID suitable for an
// X-Request-Id response header.
func GenRequestID() string { return getSID().MustGenerate() }

// HolderID returns a stable identity for this process: hostname-pid,
// matching the Python prototype's `f"{socket.gethostname()}-{os.getpid()}"`.
func HolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
