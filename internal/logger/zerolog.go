package logger

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of zerolog. Fields are written in
// key order so console output is stable between runs.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerolog writes JSON events to writer.
func NewZerolog(writer io.Writer, level LogLevel) *ZerologAdapter {
	return &ZerologAdapter{
		logger: zerolog.New(writer).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// NewConsoleLogger writes human-readable output to stderr so that stdout
// stays free for usage text.
func NewConsoleLogger(level LogLevel) *ZerologAdapter {
	return NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
}

// With returns an adapter that stamps key=value on every event.
func (z *ZerologAdapter) With(key string, value interface{}) *ZerologAdapter {
	return &ZerologAdapter{logger: z.logger.With().Interface(key, value).Logger()}
}

func (z *ZerologAdapter) Debug(component, message string, fields map[string]interface{}) {
	send(z.logger.Debug(), component, fields, message)
}

func (z *ZerologAdapter) Info(component, message string, fields map[string]interface{}) {
	send(z.logger.Info(), component, fields, message)
}

func (z *ZerologAdapter) Warning(component, message string, fields map[string]interface{}) {
	send(z.logger.Warn(), component, fields, message)
}

func (z *ZerologAdapter) Error(component string, err error, fields map[string]interface{}) {
	send(z.logger.Error().Err(err), component, fields, "operation failed")
}

func send(event *zerolog.Event, component string, fields map[string]interface{}, message string) {
	// disabled levels return a nil event
	if event == nil {
		return
	}
	event = event.Str("component", component)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.Interface(k, fields[k])
	}
	event.Msg(message)
}
