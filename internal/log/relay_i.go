package log

import (
	"bufio"
	"io"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys of the JSON lines written by SetupJSONLogger.
const (
	RelayTimeKey    = "ts"
	RelayLevelKey   = "level"
	RelayMessageKey = "msg"
)

const maxRelayLine = 1 << 20

// Relay re-logs JSON lines read from r through logger until r is exhausted.
// Lines that are not JSON objects are logged verbatim at warn level.
func Relay(r io.Reader, logger *zap.SugaredLogger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRelayLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnw(string(line))
			continue
		}

		msg, _ := rec[RelayMessageKey].(string)
		lvlText, _ := rec[RelayLevelKey].(string)
		delete(rec, RelayMessageKey)
		delete(rec, RelayLevelKey)
		delete(rec, RelayTimeKey)

		kv := make([]any, 0, len(rec)*2)
		for k, v := range rec {
			if k == componentFieldKey {
				continue
			}
			kv = append(kv, k, v)
		}

		lvl, err := zapcore.ParseLevel(lvlText)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		logger.Logw(lvl, msg, kv...)
	}
}
