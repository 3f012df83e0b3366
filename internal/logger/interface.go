package logger

import "codeberg.org/mutker/ipmifanctl/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err error) *LogEvent
	With(key, value string) Logger
}

var _ Logger = (*zeroLogger)(nil)

// codedError is satisfied by errors produced by the errors package.
type codedError interface {
	error
	Code() errors.ErrorCode
}
