// Copyright (C) 2014 Jakob Borg. All rights reserved. Use of this source code
// is governed by an MIT-style license that can be found in the LICENSE file.

// Package logger implements a small level-gated logger with callback
// functionality. The sync engine and CLI use it to emit the single
// human-readable line per significant step that spec.md §7 requires
// ("fastforwarding to <id>", "running <name>", "synced to <remote>", ...).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelFatal
	NumLevels
)

// A MessageHandler is called with the log level and message text.
type MessageHandler func(l LogLevel, msg string)

type Logger struct {
	logger   *log.Logger
	handlers [NumLevels][]MessageHandler
	mut      sync.Mutex
}

// DefaultLogger logs to standard output undecorated: the CLI wants bare
// step lines, not timestamps.
var DefaultLogger = New()

func New() *Logger {
	if os.Getenv("CONFIGSYNC_LOGGER_DISCARD") != "" {
		return &Logger{logger: log.New(io.Discard, "", 0)}
	}
	return &Logger{logger: log.New(os.Stdout, "", 0)}
}

// AddHandler registers a new MessageHandler to receive messages with
// exactly the specified log level; messages of other levels are not
// passed to it.
func (l *Logger) AddHandler(level LogLevel, h MessageHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) SetFlags(flag int) { l.logger.SetFlags(flag) }

func (l *Logger) SetPrefix(prefix string) { l.logger.SetPrefix(prefix) }

func (l *Logger) callHandlers(level LogLevel, s string) {
	for _, h := range l.handlers[level] {
		h(level, strings.TrimSpace(s))
	}
}

// Debugf logs a formatted line with a DEBUG prefix.
func (l *Logger) Debugf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(2, "DEBUG: "+s)
	l.callHandlers(LevelDebug, s)
}

// Infoln logs an undecorated step line.
func (l *Logger) Infoln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintln(vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelInfo, s)
}

// Infof logs a formatted, undecorated step line.
func (l *Logger) Infof(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelInfo, s)
}

// Warnf logs a formatted line with the "err: " prefix spec.md §7 uses for
// surfaced failures.
func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(2, "err: "+s)
	l.callHandlers(LevelWarn, s)
}
