package session

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/clawdesk/internal/session"

var tracer = otel.Tracer(scopeName)
