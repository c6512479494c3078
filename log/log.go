package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/mit-dci/spvd/electrum"
	"github.com/mit-dci/spvd/headerdb"
	"github.com/mit-dci/spvd/spv"
	"github.com/mit-dci/spvd/walletdb"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	Spvd = backendLog.Logger("SPVD")
	spvl = backendLog.Logger("SPVV")
	hdrl = backendLog.Logger("HDRS")
	wltl = backendLog.Logger("WLLT")
	elel = backendLog.Logger("ELEC")
)

// Initialize package-global logger variables.
func init() {
	spv.UseLogger(spvl)
	headerdb.UseLogger(hdrl)
	walletdb.UseLogger(wltl)
	electrum.UseLogger(elel)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"SPVD": Spvd,
	"SPVV": spvl,
	"HDRS": hdrl,
	"WLLT": wltl,
	"ELEC": elel,
}

// InitLogRotator initializes the logging rotater to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %v", err)
	}

	logRotator = r
	return nil
}

// Close closes the log rotator, if there is one.
func Close() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// SetLogLevels parses a debuglevel string, either a single level for every
// subsystem or comma separated SUBSYS=level pairs, and applies it.
func SetLogLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, "=") {
		level, ok := btclog.LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				debugLevel)
		}
		for _, logger := range subsystemLoggers {
			logger.SetLevel(level)
		}
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains an "+
				"invalid subsystem/level pair [%v]", pair)
		}
		logger, ok := subsystemLoggers[fields[0]]
		if !ok {
			return fmt.Errorf("the specified subsystem [%v] is invalid -- "+
				"supported subsytems %v", fields[0], SupportedSubsystems())
		}
		level, ok := btclog.LevelFromString(fields[1])
		if !ok {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				fields[1])
		}
		logger.SetLevel(level)
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}
