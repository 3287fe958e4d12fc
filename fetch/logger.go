package alpineami_fetch

import (
	"fmt"
	"strings"

	rh "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// httpLogger sends the HTTP client messages to logrus, one field per key.
// The client logs every request at debug level, which is all that is kept of it.
type httpLogger struct {
	log *logrus.Logger
}

func NewHTTPLogger(logger *logrus.Logger) rh.LeveledLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &httpLogger{log: logger}
}

func (hl *httpLogger) entry(keysAndValues []interface{}) *logrus.Entry {
	f := logrus.Fields{}
	for idx := 0; idx+1 < len(keysAndValues); idx += 2 {
		f[fmt.Sprint(keysAndValues[idx])] = keysAndValues[idx+1]
	}
	return hl.log.WithField("component", "http").WithFields(f)
}

func (hl *httpLogger) Error(msg string, keysAndValues ...interface{}) {
	hl.entry(keysAndValues).Error(msg)
}

func (hl *httpLogger) Info(msg string, keysAndValues ...interface{}) {
	hl.entry(keysAndValues).Info(msg)
}

func (hl *httpLogger) Debug(msg string, keysAndValues ...interface{}) {
	hl.entry(keysAndValues).Debug(msg)
}

// Warn demotes "retrying" notices: retries are off, the caller reports the failure.
func (hl *httpLogger) Warn(msg string, keysAndValues ...interface{}) {
	if strings.Contains(msg, "retrying") {
		hl.entry(keysAndValues).Debug(msg)
		return
	}
	hl.entry(keysAndValues).Warn(msg)
}
