// Package logging provides named, per-component loggers shared across
// the indexer, following the same prefix-per-subsystem convention used
// throughout the mail-sync stack.
package logging

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component names, stamped on each entry as its "component" field.
const (
	Backfill  = "backfill"
	Applier   = "applier"
	Lifecycle = "lifecycle"
	Progress  = "progress"
	Fetcher   = "fetcher"
	IndexCore = "indexcore"
	API       = "api"
	Eventbus  = "eventstream"
	Folder    = "folder"
	Main      = "main"
)

var (
	mu      sync.Mutex
	loggers = map[string]*logrus.Logger{}
	level   = logrus.InfoLevel
)

// SetLevel changes the level of every logger created so far, and every
// logger created afterward.
func SetLevel(raw string) {
	mu.Lock()
	defer mu.Unlock()

	level = parseLevel(raw)
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

func parseLevel(raw string) logrus.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// For returns the named logger, creating it with a text formatter and a
// hook that sets the "component" field the first time it is requested.
func For(component string) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l = withComponentHook(l, component)
	loggers[component] = l
	return l
}

func withComponentHook(l *logrus.Logger, component string) *logrus.Logger {
	l.AddHook(componentHook{component: component})
	return l
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h componentHook) Fire(entry *logrus.Entry) error {
	entry.Data["component"] = h.component
	return nil
}
