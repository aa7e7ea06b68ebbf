package main

import "github.com/nervosnetwork/fiber-channeld/fiberlog"

// log is fiberd's own top-level logger, the "FIBD" counterpart of every
// library package's per-package logger -- set once at package init since,
// unlike a library, main has no caller to defer UseLogger to.
var log = fiberlog.NewSubLogger("FIBD")
