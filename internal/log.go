// Package internal holds helpers shared across the stack's layers that are
// not part of the public API of any single package.
package internal

import (
	"context"
	"log/slog"
	"net/netip"
)

// LevelTrace is a verbosity level below [slog.LevelDebug], for
// per-frame/per-segment tracing that would otherwise drown out regular
// debug logs. No package in this module logs at this level.
const LevelTrace slog.Level = slog.LevelDebug - 4

// LogAttrs logs msg at level using log if non-nil. A nil logger is a silent
// no-op so that layers can be constructed without a logger in tests.
func LogAttrs(log *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if log == nil || !log.Enabled(context.Background(), level) {
		return
	}
	log.LogAttrs(context.Background(), level, msg, attrs...)
}

// SlogAddr4 returns a slog.Attr for a dotted-quad IPv4 address.
func SlogAddr4(key string, addr [4]byte) slog.Attr {
	return slog.String(key, netip.AddrFrom4(addr).String())
}
