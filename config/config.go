// Package config is fiberd's daemon configuration, grounded on the
// teacher's loadConfig/config struct convention referenced throughout
// lnd.go (cfg.Profile, cfg.DataDir, cfg.Bitcoin) and on the jessevdk/
// go-flags struct-tag style other_examples/...core-config.go.go's Conduit
// Config/Chain structs use (long/short/description/default tags), applied
// here to this protocol's own channel constants (spec.md §6) in place of
// the teacher's per-chain backend settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

const (
	defaultConfigFilename = "fiberd.conf"
	defaultDataDirname    = "data"
	defaultLogFilename    = "fiberd.log"
	defaultLogLevel       = "info"
	defaultRPCPort        = 9735
	defaultPeerPort       = 9736
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

var defaultFiberDir = filepath.Join(os.Getenv("HOME"), ".fiberd")

// Config is fiberd's full set of runtime parameters, loaded once at
// startup by LoadConfig and never mutated afterward — the same
// load-once, pass-by-reference-everywhere convention the teacher's own
// package-level `cfg *config` (lnd.go) follows, minus the mutable global:
// callers here are handed the *Config LoadConfig returns and pass it
// through explicitly.
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	FiberDir   string `long:"fiberdir" description:"The base directory used to store fiberd's data"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store channel and invoice data within"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	LogLevel   string `long:"loglevel" description:"Logging level for all subsystems: trace, debug, info, warn, error, critical" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"critical"`

	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum log file size in KB before it gets rotated"`
	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`

	RPCListen  string `long:"rpclisten" description:"Add an interface/port to listen for the control RPC"`
	PeerListen string `long:"peerlisten" description:"Add an interface/port to listen for peer connections"`

	Channel ChannelConfig `group:"Channel" namespace:"channel"`

	Profile string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65535"`
}

// ChannelConfig carries the channel-constraint defaults spec.md §6
// documents as per-node policy (max TLC count in flight, fee rate,
// minimum forwarded TLC value, and CLTV delta), mirroring the Chain
// struct's per-chain policy fields (DefaultNumChanConfs,
// MinHTLCIn/MinHTLCOut, BaseFee/FeeRate, TimeLockDelta) from
// other_examples/...core-config.go.go, generalized from BTC-denominated
// HTLC policy to this protocol's TLC policy.
type ChannelConfig struct {
	MaxTlcNumberInFlight uint64 `long:"maxtlcnumberinflight" description:"Maximum number of TLCs any one channel may carry at once"`
	MinTlcValue          uint64 `long:"mintlcvalue" description:"Smallest TLC value this node will forward"`
	FeeProportionalPPM   uint64 `long:"feeproportionalppm" description:"Proportional forwarding fee, in parts per million of the forwarded amount"`
	TlcExpiryDelta       uint64 `long:"tlcexpirydelta" description:"CLTV delta subtracted from a forwarded TLC's expiry, in milliseconds"`
	Public               bool   `long:"public" description:"Announce channels opened by this node to the rest of the network"`
}

// DefaultConfig returns a Config populated with every default value,
// before flag parsing or an on-disk config file is applied — the same
// role loadConfig's initial `defaultCfg` literal plays in the teacher.
func DefaultConfig() Config {
	return Config{
		FiberDir:       defaultFiberDir,
		DataDir:        filepath.Join(defaultFiberDir, defaultDataDirname),
		LogDir:         defaultFiberDir,
		LogLevel:       defaultLogLevel,
		MaxLogFileSize: defaultMaxLogFileSize,
		MaxLogFiles:    defaultMaxLogFiles,
		RPCListen:      fmt.Sprintf("localhost:%d", defaultRPCPort),
		PeerListen:     fmt.Sprintf("0.0.0.0:%d", defaultPeerPort),
		Channel: ChannelConfig{
			MaxTlcNumberInFlight: channel.DefaultMaxTlcNumberInFlight,
			FeeProportionalPPM:   0,
			TlcExpiryDelta:       channel.MinTlcExpiryDeltaMs,
			Public:               false,
		},
	}
}

// LoadConfig parses command-line flags over the defaults, the same two
// -step "defaults, then flags.Parse" shape the teacher's loadConfig uses
// (an on-disk ini file is deliberately not layered in here — see
// DESIGN.md's Open Question decision on config scope).
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LogFile is the full path fiberlog.InitLogRotator should open.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
