package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees console output with an optional JSON file sink. A nil
// fileWriter yields a console-only core. Development mode uses the coloured
// console encoder; production writes JSON to both sinks.
func NewMultiCore(level zapcore.LevelEnabler, console, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, console, level)
	if fileWriter == nil {
		return consoleCore
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), fileWriter, level)
	return zapcore.NewTee(consoleCore, fileCore)
}
