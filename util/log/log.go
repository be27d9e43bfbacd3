// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package waLog contains a simple logger interface used by the other waingest
// packages, backed by zerolog.
package waLog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a simple logger interface that can have subloggers for specific areas.
type Logger interface {
	Warnf(msg string, args ...any)
	Errorf(msg string, args ...any)
	Infof(msg string, args ...any)
	Debugf(msg string, args ...any)
	Sub(module string) Logger
}

type noopLogger struct{}

func (n *noopLogger) Errorf(_ string, _ ...any) {}
func (n *noopLogger) Warnf(_ string, _ ...any)  {}
func (n *noopLogger) Infof(_ string, _ ...any)  {}
func (n *noopLogger) Debugf(_ string, _ ...any) {}
func (n *noopLogger) Sub(_ string) Logger       { return n }

// Noop is a no-op Logger implementation that silently drops everything.
var Noop Logger = &noopLogger{}

type zeroLogger struct {
	zl zerolog.Logger
}

// Zerolog wraps a zerolog.Logger in the Logger interface. Subloggers add a
// "component" field.
func Zerolog(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

func (z *zeroLogger) Errorf(msg string, args ...any) { z.zl.Error().Msgf(msg, args...) }
func (z *zeroLogger) Warnf(msg string, args ...any)  { z.zl.Warn().Msgf(msg, args...) }
func (z *zeroLogger) Infof(msg string, args ...any)  { z.zl.Info().Msgf(msg, args...) }
func (z *zeroLogger) Debugf(msg string, args ...any) { z.zl.Debug().Msgf(msg, args...) }

func (z *zeroLogger) Sub(module string) Logger {
	return &zeroLogger{zl: z.zl.With().Str("component", module).Logger()}
}

// Stdout creates a Logger writing to stdout. format is "console" for
// human-readable output or anything else for JSON lines. Unknown levels
// default to info.
func Stdout(module, level, format string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var zl zerolog.Logger
	if format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	} else {
		zl = zerolog.New(os.Stdout)
	}
	zl = zl.Level(lvl).With().Timestamp().Logger()
	if module != "" {
		zl = zl.With().Str("component", module).Logger()
	}
	return &zeroLogger{zl: zl}
}
