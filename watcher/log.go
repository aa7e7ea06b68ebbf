package watcher

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, wired up by the daemon via
// UseLogger at startup. Same per-package btclog.Logger convention as
// channel/log.go, fiberdb/log.go, invoice/log.go and forward/log.go.
var log btclog.Logger

func init() {
	UseLogger(btclog.Disabled)
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the package-level logger used by watcher/.
func UseLogger(logger btclog.Logger) {
	log = logger
}
