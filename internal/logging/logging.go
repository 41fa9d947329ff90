// Package logging configures slog for the encounter service: console or
// file output, the OTel bridge, Graylog shipping and per-command context.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of one process run, e.g.
// logs/encounter.20260212_213836.log.
func LogFilePath(logsDir, service string, sessionStart time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", service, sessionStart.Format("20060102_150405")))
}
