package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Configure sets level and formatter on the package-level logrus logger used by
// the server's handlers.
func Configure(level, format string) {
	apply(logrus.StandardLogger(), level, format)
}

// New builds a standalone logger for injected client components
func New(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	if out != nil {
		l.SetOutput(out)
	}
	apply(l, level, format)
	return l
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func apply(l *logrus.Logger, level, format string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	if l.Out == nil {
		l.SetOutput(os.Stderr)
	}
}
