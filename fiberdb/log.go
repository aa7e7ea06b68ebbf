package fiberdb

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, wired up by the daemon via
// UseLogger at startup. Grounded on the same per-package btclog.Logger
// convention channeldb itself uses.
var log btclog.Logger

func init() {
	UseLogger(btclog.Disabled)
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the package-level logger used by fiberdb/.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logClosure defers an expensive debug-only computation (here, a
// go-spew dump of a channel snapshot) until the logger actually decides
// to print it, the same closure-over-a-string-method idiom the teacher
// uses pervasively for its own debug-level spew dumps.
type logClosure func() string

func (c logClosure) String() string { return c() }

func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
