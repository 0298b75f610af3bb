package logger

import (
	"os"
	"strings"

	"ssl-monitor/internal/config"

	"github.com/sirupsen/logrus"
)

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger from the log section of the configuration
func Init(cfg *config.LogConfig) {
	Log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		Log.Warnf("Invalid log level '%s', defaulting to 'info'", cfg.Level)
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	Log.Debugf("Log level set to: %s", Log.GetLevel().String())
}

// For returns an entry tagged with the component name
func For(component string) *logrus.Entry {
	return Log.WithField("component", component)
}
