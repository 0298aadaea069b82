package logging

import "go.uber.org/zap/zapcore"

// TraceLevel is a custom level below Debug, for wire-frame and byte-level
// detail that is almost always filtered outside local debugging.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to
// zap's own set.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
