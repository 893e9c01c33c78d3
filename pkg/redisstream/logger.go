package redisstream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// ZerologAdapter routes watermill logs into zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = ZerologAdapter{}

func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return ZerologAdapter{logger: logger.With().Str("component", "watermill").Logger()}
}

func (a ZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a ZerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a ZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a ZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a ZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return ZerologAdapter{logger: a.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
