package log

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetupLogger(t *testing.T) {
	SetupLogger(LevelDebug)
	Logger = Logger.With("component", "test")
	// debug
	Logger.Debug("This is debug level log")
	Logger.Debugf("This is debug level log: %s", "test")
	// warn
	Logger.Warn("This is warn level log")
	// info
	Logger.Info("This is info level log")
	Logger.Infof("This is info level log: %s", "test")
	// error
	Logger.Error("This is error level log")
}

func TestComponentPrefix(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(newComponentCore(obs)).Sugar()
	defer SetupLogger(LevelInfo)

	Component("mapstore").Infow("stored", "hash", "ab12")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	if !strings.Contains(entries[0].Message, "[mapstore] stored") {
		t.Fatalf("message=%q", entries[0].Message)
	}
	if _, ok := entries[0].ContextMap()[componentFieldKey]; ok {
		t.Fatalf("component field should be folded into the message")
	}
	if entries[0].ContextMap()["hash"] != "ab12" {
		t.Fatalf("fields=%v", entries[0].ContextMap())
	}
}

func TestJSONLoggerRelay(t *testing.T) {
	var buf bytes.Buffer
	SetupJSONLogger(LevelDebug, &buf)
	Component("mapworker").Warnw("sector skipped", "sector", 3)
	Component("mapworker").Debugw("done")
	_ = Logger.Sync()
	buf.WriteString("panic: not json\n")

	obs, logs := observer.New(zapcore.DebugLevel)
	Relay(&buf, zap.New(obs).Sugar().With("pid", 42))
	defer SetupLogger(LevelInfo)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries=%d: %+v", len(entries), entries)
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].Message != "sector skipped" {
		t.Fatalf("first entry=%+v", entries[0])
	}
	if entries[0].ContextMap()["sector"] != float64(3) || entries[0].ContextMap()["pid"] != int64(42) {
		t.Fatalf("fields=%v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("second entry level=%s", entries[1].Level)
	}
	if entries[2].Level != zapcore.WarnLevel || entries[2].Message != "panic: not json" {
		t.Fatalf("third entry=%+v", entries[2])
	}
}
