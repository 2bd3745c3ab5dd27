package voice

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/clawdesk/internal/voice"

var tracer = otel.Tracer(scopeName)
