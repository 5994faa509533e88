package main

import (
	"log/slog"
	"time"

	"sudovault/core/events"
	"sudovault/core/types"
)

// logEmitter writes every vault event to the structured log. Deployments
// that index events externally replace this with their own subscriber.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if l.logger == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	l.logger.Info("vault event", attrs...)
}

func nowUnix() int64 { return time.Now().Unix() }
