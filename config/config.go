package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "spvd.conf"
	defaultLogFilename    = "spvd.log"
	defaultDebugLevel     = "info"
	defaultTickInterval   = time.Second
)

// spvd home directory
var defaultHomeDir = btcutil.AppDataDir("spvd", false)

// default electrum server ports per network
var defaultPorts = map[string]string{
	chaincfg.MainNetParams.Name:       "50001",
	chaincfg.TestNet3Params.Name:      "60001",
	chaincfg.RegressionNetParams.Name: "60401",
}

// All the spvd file paths for one network
type spvDir struct {
	Base     string
	HeaderDB string
	WalletDB string
	LogFile  string
}

func initSpvDir(base, logDir string) spvDir {
	return spvDir{
		Base:     base,
		HeaderDB: filepath.Join(base, "headers"),
		WalletDB: filepath.Join(base, "wallet"),
		LogFile:  filepath.Join(logDir, defaultLogFilename),
	}
}

// Config is the spvd configuration, from the command line and the
// optional config file.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	HomeDir    string `long:"homedir" description:"Directory for all data and logs"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Net string `long:"net" default:"testnet" description:"Target network (testnet, regtest, mainnet)"`

	Server    string `short:"s" long:"server" description:"Electrum server host:port, or ws:// URL with --websocket"`
	WebSocket bool   `long:"websocket" description:"Connect to the server over websocket"`
	Proxy     string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	Checkpoint   int32         `long:"checkpoint" default:"-1" description:"Headers at or below this height are fetched in chunks. -1 uses the network's last checkpoint"`
	TickInterval time.Duration `long:"tickinterval" description:"How often to scan the wallet for unverified txs"`

	WatchAddrs []string `long:"watchaddr" description:"Bech32 address whose txs to verify. May be repeated"`
	Txs        []string `long:"tx" description:"txid:height to verify. May be repeated"`

	StatusListen string `long:"statuslisten" description:"Serve verifier status over HTTP on this address"`

	params chaincfg.Params

	// where the dbs and logs live
	SpvDir spvDir
}

func defaultConfig() Config {
	return Config{
		ConfigFile:   filepath.Join(defaultHomeDir, defaultConfigFilename),
		HomeDir:      defaultHomeDir,
		LogDir:       filepath.Join(defaultHomeDir, "logs"),
		DebugLevel:   defaultDebugLevel,
		TickInterval: defaultTickInterval,
	}
}

// Parse parses the command line arguments, and the config file if there is
// one, into a Config.
func Parse(args []string) (*Config, error) {
	cfg := defaultConfig()

	// pre-parse to find the config file
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if preCfg.ConfigFile != "" {
		err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				return nil, err
			}
		}
	}
	// command line overrides the config file
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	switch cfg.Net {
	case "testnet":
		cfg.params = chaincfg.TestNet3Params
	case "regtest":
		cfg.params = chaincfg.RegressionNetParams
	case "mainnet":
		cfg.params = chaincfg.MainNetParams
	default:
		return nil, errInvalidNetwork(cfg.Net)
	}

	if cfg.Checkpoint < 0 {
		cfg.Checkpoint = 0
		if n := len(cfg.params.Checkpoints); n > 0 {
			cfg.Checkpoint = cfg.params.Checkpoints[n-1].Height
		}
	}

	// if no server was given, default to localhost
	if cfg.Server == "" {
		cfg.Server = "127.0.0.1"
	}
	if !cfg.WebSocket {
		if _, _, err := net.SplitHostPort(cfg.Server); err != nil {
			cfg.Server = net.JoinHostPort(cfg.Server, defaultPorts[cfg.params.Name])
		}
	}

	base := filepath.Join(cfg.HomeDir, cfg.params.Name)
	cfg.SpvDir = initSpvDir(base, filepath.Join(cfg.LogDir, cfg.params.Name))

	return &cfg, nil
}

// Params returns the chain params for the selected network.
func (cfg *Config) Params() *chaincfg.Params {
	return &cfg.params
}

// MakePaths creates the data and log directories.
func (cfg *Config) MakePaths() error {
	for _, dir := range []string{
		cfg.SpvDir.HeaderDB,
		cfg.SpvDir.WalletDB,
		filepath.Dir(cfg.SpvDir.LogFile),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// TxArgs parses the --tx arguments.
func (cfg *Config) TxArgs() (map[chainhash.Hash]int32, error) {
	txs := make(map[chainhash.Hash]int32, len(cfg.Txs))
	for _, arg := range cfg.Txs {
		i := strings.LastIndexByte(arg, ':')
		if i < 0 {
			return nil, errInvalidTxArg(arg)
		}
		txid, err := chainhash.NewHashFromStr(arg[:i])
		if err != nil || len(arg[:i]) != 2*chainhash.HashSize {
			return nil, errInvalidTxArg(arg)
		}
		height, err := strconv.ParseInt(arg[i+1:], 10, 32)
		if err != nil {
			return nil, errInvalidTxArg(arg)
		}
		txs[*txid] = int32(height)
	}
	return txs, nil
}
