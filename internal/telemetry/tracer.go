package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanLogin    = "gplazma.login"
	SpanPhase    = "gplazma.phase"
	SpanValidate = "gplazma.validate"
	SpanReload   = "gplazma.reload"
)

// Attribute keys for login spans.
const (
	AttrSessionID = "gplazma.session_id"
	AttrOrigin    = "client.address"
	AttrPhase     = "gplazma.phase"
	AttrPlugin    = "gplazma.plugin"
	AttrControl   = "gplazma.control"
	AttrResult    = "gplazma.result"
	AttrUsername  = "user.name"
	AttrUID       = "user.uid"
	AttrCacheHit  = "cache.hit"
	AttrItems     = "gplazma.config.items"
)

func SessionID(id string) attribute.KeyValue { return attribute.String(AttrSessionID, id) }

func Origin(addr string) attribute.KeyValue { return attribute.String(AttrOrigin, addr) }

func Phase(name string) attribute.KeyValue { return attribute.String(AttrPhase, name) }

func Plugin(name string) attribute.KeyValue { return attribute.String(AttrPlugin, name) }

func Control(name string) attribute.KeyValue { return attribute.String(AttrControl, name) }

// Result returns "ok" or "fail".
func Result(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String(AttrResult, "ok")
	}
	return attribute.String(AttrResult, "fail")
}

func Username(name string) attribute.KeyValue { return attribute.String(AttrUsername, name) }

func UID(uid uint32) attribute.KeyValue { return attribute.Int64(AttrUID, int64(uid)) }

func CacheHit(hit bool) attribute.KeyValue { return attribute.Bool(AttrCacheHit, hit) }

func Items(n int) attribute.KeyValue { return attribute.Int(AttrItems, n) }

// StartLoginSpan starts the root span of one login.
func StartLoginSpan(ctx context.Context, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{SessionID(sessionID)}, attrs...)
	return StartSpan(ctx, SpanLogin, trace.WithAttributes(all...))
}

// StartPhaseSpan starts the span covering one pipeline phase.
func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPhase, trace.WithAttributes(Phase(phase)))
}

// StartValidateSpan starts the span covering reply validation.
func StartValidateSpan(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanValidate)
}
