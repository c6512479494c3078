package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
)

func TestSetLogLevels(t *testing.T) {
	if err := SetLogLevels("debug"); err != nil {
		t.Fatal(err)
	}
	for id, logger := range subsystemLoggers {
		if logger.Level() != btclog.LevelDebug {
			t.Fatalf("%s at %v", id, logger.Level())
		}
	}

	if err := SetLogLevels("SPVV=trace,ELEC=error"); err != nil {
		t.Fatal(err)
	}
	if spvl.Level() != btclog.LevelTrace || elel.Level() != btclog.LevelError {
		t.Fatal("per subsystem levels not applied")
	}
	if hdrl.Level() != btclog.LevelDebug {
		t.Fatal("unnamed subsystem changed level")
	}

	for _, bad := range []string{"loud", "SPVV=loud", "NOPE=info", "SPVV"} {
		if err := SetLogLevels(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestSupportedSubsystems(t *testing.T) {
	subs := SupportedSubsystems()
	want := []string{"ELEC", "HDRS", "SPVD", "SPVV", "WLLT"}
	if len(subs) != len(want) {
		t.Fatalf("subsystems %v", subs)
	}
	for i := range want {
		if subs[i] != want[i] {
			t.Fatalf("subsystems %v, expect %v", subs, want)
		}
	}
}

func TestInitLogRotator(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "testnet3")
	if err := InitLogRotator(filepath.Join(dir, "spvd.log")); err != nil {
		t.Fatal(err)
	}
	defer func() {
		Close()
		logRotator = nil
	}()

	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("log dir not created: %v", err)
	}
	Spvd.Infof("rotator test")
}
