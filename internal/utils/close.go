package utils

import (
	"io"

	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

// MustClose closes c and logs any error under name. Use in defer statements
// during shutdown, where a failed close cannot be acted upon.
func MustClose(c io.Closer, name string, log logger.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("component", name), logger.Error(err))
	}
}
