// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import "github.com/rs/zerolog"

// NewZerologAdapter adapts a [*zerolog.Logger] to [SLogger].
//
// Use this when the surrounding process already logs through zerolog and
// should not carry a second logging dependency just for this package.
func NewZerologAdapter(logger *zerolog.Logger) SLogger {
	return &zerologAdapter{logger: logger}
}

type zerologAdapter struct {
	logger *zerolog.Logger
}

var _ SLogger = &zerologAdapter{}

// Debug implements [SLogger].
func (a *zerologAdapter) Debug(msg string, args ...any) {
	a.event(a.logger.Debug(), msg, args)
}

// Info implements [SLogger].
func (a *zerologAdapter) Info(msg string, args ...any) {
	a.event(a.logger.Info(), msg, args)
}

// event appends slog-style alternating key/value args to a zerolog event
// before sending msg, mirroring how [log/slog.Logger] accepts args.
func (a *zerologAdapter) event(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
