package alerts

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// LogDispatchSink writes fired alerts as structured JSON logs. It is
// the fallback/default sink: real channel delivery (Slack, webhook,
// email) is a separate collaborator this core does not implement.
type LogDispatchSink struct {
	logger zerolog.Logger
}

// NewLogDispatchSink constructs a LogDispatchSink.
func NewLogDispatchSink(logger zerolog.Logger) *LogDispatchSink {
	return &LogDispatchSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogDispatchSink) Dispatch(req DispatchRequest) {
	data, _ := json.Marshal(req)
	s.logger.Info().RawJSON("alert", data).Msg("alert_fired")
}
