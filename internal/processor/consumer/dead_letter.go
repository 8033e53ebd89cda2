package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
)

// deadLetter parks a message that can never be processed. A nil return commits the
// offset; when no DLQ is configured or publishing fails the cause is returned so the
// message is redelivered.
func deadLetter(ctx context.Context, logger *slog.Logger, dlq producers.DeadLetterPublisher, dl producers.DeadLetter, cause error) error {
	if dlq == nil {
		return fmt.Errorf("%s: %w", dl.Stage, cause)
	}

	dl.Reason = cause.Error()
	if err := dlq.PublishDeadLetter(ctx, dl); err != nil {
		logger.Error("Failed to publish message to DLQ",
			"dlq_error", err,
			"original_error", cause,
			"message_key", string(dl.Key),
		)
		return fmt.Errorf("%s: %w", dl.Stage, cause)
	}
	return nil
}
