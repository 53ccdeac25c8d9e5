package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these keys consistently so
// that login traces can be aggregated and queried.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Login Session
	// ========================================================================
	KeySessionID = "session_id" // One id per Login call
	KeyOrigin    = "origin"     // Client address from the Origin principal
	KeyPrincipal = "principal"  // Rendered principal, e.g. username:alice
	KeyUsername  = "username"
	KeyUID       = "uid"
	KeyGID       = "gid"

	// ========================================================================
	// Pipeline
	// ========================================================================
	KeyPhase   = "phase"   // auth, map, account, session, identity
	KeyPlugin  = "plugin"  // Plugin name as configured
	KeyControl = "control" // required, requisite, sufficient, optional
	KeyResult  = "result"  // ok / fail
	KeyLine    = "line"    // Configuration line number

	// ========================================================================
	// Configuration
	// ========================================================================
	KeyConfigPath = "config_path"
	KeyItems      = "items" // Number of configuration items

	// ========================================================================
	// Cache
	// ========================================================================
	KeyCacheHit  = "cache_hit"
	KeyCacheSize = "cache_size"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"
	KeyAccess     = "access" // Permission verdict: allowed, denied, undefined
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

func Origin(addr string) slog.Attr { return slog.String(KeyOrigin, addr) }

// Principal accepts any fmt.Stringer so the logger stays free of domain imports.
func Principal(p interface{ String() string }) slog.Attr {
	return slog.String(KeyPrincipal, p.String())
}

func Username(name string) slog.Attr { return slog.String(KeyUsername, name) }

func UID(uid uint32) slog.Attr { return slog.Uint64(KeyUID, uint64(uid)) }

func GID(gid uint32) slog.Attr { return slog.Uint64(KeyGID, uint64(gid)) }

func Phase(name string) slog.Attr { return slog.String(KeyPhase, name) }

func Plugin(name string) slog.Attr { return slog.String(KeyPlugin, name) }

func Control(name string) slog.Attr { return slog.String(KeyControl, name) }

// Result renders a success flag as ok/fail.
func Result(ok bool) slog.Attr {
	if ok {
		return slog.String(KeyResult, "ok")
	}
	return slog.String(KeyResult, "fail")
}

func Line(n int) slog.Attr { return slog.Int(KeyLine, n) }

func ConfigPath(p string) slog.Attr { return slog.String(KeyConfigPath, p) }

func Items(n int) slog.Attr { return slog.Int(KeyItems, n) }

func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

func CacheSize(n int) slog.Attr { return slog.Int(KeyCacheSize, n) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Elapsed returns the duration since start as a duration_ms attribute.
func Elapsed(start time.Time) slog.Attr { return DurationMs(Duration(start)) }

// Err returns a slog.Attr for an error, or an empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

func Access(verdict string) slog.Attr { return slog.String(KeyAccess, verdict) }
