package authsync

import (
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// GlogSource hands out named glog loggers. *glog.BaseLogger and the value
// returned by glog.ProviderFromLogger both satisfy it.
type GlogSource interface {
	GetLogger(name string) glog.Logger
}

// NewGlogProvider builds a pretty printing glog tree named name. Debug lines
// are dropped unless debug is set.
func NewGlogProvider(name string, debug bool) LoggerProvider {
	level := glog.Info
	if debug {
		level = glog.Debug
	}
	return FromGlog(glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName(name),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	))
}

// FromGlog adapts src to LoggerProvider. Messages are formatted before they
// reach glog; the first error argument is also attached as the "error"
// attribute so rich error handlers can expand it.
func FromGlog(src GlogSource) LoggerProvider {
	return glogProvider{src: src}
}

var defaultProvider = sync.OnceValue(func() LoggerProvider {
	return NewGlogProvider("authsync", false)
})

// DefaultLogger returns a logger named name from the shared glog tree.
func DefaultLogger(name string) Logger {
	return defaultProvider().GetLogger(name)
}

type glogProvider struct {
	src GlogSource
}

func (p glogProvider) GetLogger(name string) Logger {
	if p.src == nil {
		return defLogger{name: name}
	}
	lgr := p.src.GetLogger(name)
	if lgr == nil {
		return defLogger{name: name}
	}
	return glogLogger{lgr: lgr}
}

type glogLogger struct {
	lgr glog.Logger
}

func (l glogLogger) Debug(format string, args ...any) {
	l.lgr.Debug(formatMessage(format, args), errorAttrs(args)...)
}

func (l glogLogger) Info(format string, args ...any) {
	l.lgr.Info(formatMessage(format, args), errorAttrs(args)...)
}

func (l glogLogger) Warn(format string, args ...any) {
	l.lgr.Warn(formatMessage(format, args), errorAttrs(args)...)
}

func (l glogLogger) Error(format string, args ...any) {
	l.lgr.Error(formatMessage(format, args), errorAttrs(args)...)
}

func formatMessage(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func errorAttrs(args []any) []any {
	for _, arg := range args {
		if err, ok := arg.(error); ok && err != nil {
			return []any{"error", err}
		}
	}
	return nil
}
