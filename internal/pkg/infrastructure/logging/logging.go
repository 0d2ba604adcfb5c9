package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

//Logger interface that allows abstracting away the concrete logger implementation we are using
type Logger interface {
	//Fatal causes the application to terminate with the given error message
	Fatal(args ...interface{})
	//Fatalf causes the application to terminate with the given error message
	Fatalf(format string, args ...interface{})
	//Error logs a message at ERROR level
	Error(args ...interface{})
	//Errorf logs a message at ERROR level
	Errorf(format string, args ...interface{})
	//Warnf logs a message at WARN level
	Warnf(format string, args ...interface{})
	//Infof logs a message at INFO level
	Infof(format string, args ...interface{})
	//Debugf logs a message at DEBUG level
	Debugf(format string, args ...interface{})
	//WithField returns a Logger that adds the key/value pair to every entry
	WithField(key string, value interface{}) Logger
}

//Option tweaks the logger returned by NewLogger
type Option func(*log.Logger)

//WithLevel sets the minimum level that will be logged. Unknown levels are ignored.
func WithLevel(level string) Option {
	return func(l *log.Logger) {
		if lvl, err := log.ParseLevel(strings.TrimSpace(level)); err == nil {
			l.SetLevel(lvl)
		}
	}
}

//WithTextFormat switches from the JSON formatter to plain text, mostly useful during local development
func WithTextFormat() Option {
	return func(l *log.Logger) {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

//NewLogger instantiates a new logger and returns it
func NewLogger(opts ...Option) Logger {
	impl := log.New()
	impl.SetOutput(os.Stdout)
	impl.SetFormatter(&log.JSONFormatter{})

	for _, opt := range opts {
		opt(impl)
	}

	return &logger{entry: log.NewEntry(impl)}
}

type logger struct {
	entry *log.Entry
}

func (l *logger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logger) Fatal(args ...interface{}) {
	l.entry.Fatal(args...)
}

func (l *logger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{entry: l.entry.WithField(key, value)}
}
