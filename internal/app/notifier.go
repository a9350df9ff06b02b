package app

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"peerlearn/api/internal/lifecycle"
)

const tracerName = "peerlearn/api/internal/app"

// Outcome is what the UI layer learns about one lifecycle operation.
type Outcome struct {
	RequestID string           `json:"requestId,omitempty"`
	Operation string           `json:"operation"`
	ActorID   string           `json:"actorId,omitempty"`
	Status    lifecycle.Status `json:"status,omitempty"`
	Code      lifecycle.Code   `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Retryable bool             `json:"retryable"`
}

// Notifier receives every lifecycle outcome, success or failure.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome)
}

// LogNotifier writes outcomes to a structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, outcome Outcome) {
	level := slog.LevelInfo
	if outcome.Code != "" {
		level = slog.LevelWarn
	}
	n.logger.LogAttrs(ctx, level, "lifecycle outcome",
		slog.String("operation", outcome.Operation),
		slog.String("request_id", outcome.RequestID),
		slog.String("actor_id", outcome.ActorID),
		slog.String("status", string(outcome.Status)),
		slog.String("code", string(outcome.Code)),
		slog.String("message", outcome.Message),
		slog.Bool("retryable", outcome.Retryable),
	)
}

// begin opens a span for op and returns the callback that closes it and
// publishes the outcome.
func (s *Service) begin(ctx context.Context, op, requestID, actorID string) (context.Context, func(requestID string, status lifecycle.Status, err error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle."+op,
		trace.WithAttributes(
			attribute.String("peerlearn.request_id", requestID),
			attribute.String("peerlearn.actor_id", actorID),
		),
	)
	return ctx, func(finalID string, status lifecycle.Status, err error) {
		defer span.End()

		outcome := Outcome{RequestID: finalID, Operation: op, ActorID: actorID, Status: status}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outcome.Code = lifecycle.CodeOf(err)
			if outcome.Code == "" {
				outcome.Code = "SERVER_ERROR"
			}
			outcome.Message = err.Error()
			outcome.Retryable = outcome.Code.Retryable()
		} else if status != "" {
			span.SetAttributes(attribute.String("peerlearn.status", string(status)))
		}
		if s.notifier != nil {
			s.notifier.Notify(ctx, outcome)
		}
	}
}
