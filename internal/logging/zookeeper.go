package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// ZKLogger routes go-zookeeper client chatter into zerolog at debug level.
type ZKLogger struct {
	logger zerolog.Logger
}

func NewZKLogger() ZKLogger {
	return ZKLogger{logger: Component("zk")}
}

// Printf satisfies zk.Logger.
func (l ZKLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimRight(format, "\n"), args...)
}
