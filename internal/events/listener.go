package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/citation-harvest-service/internal/config"
)

// Command names accepted on the command topic.
const (
	CommandResetTarget = "reset_target"
)

// OperatorCommand is the wire format of the command topic.
type OperatorCommand struct {
	Command     string    `json:"command" validate:"required"`
	TargetID    uuid.UUID `json:"target_id" validate:"required"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// TargetResetter moves a stalled target back to pending. Satisfied by
// tracker.Tracker.
type TargetResetter interface {
	Reset(ctx context.Context, targetID uuid.UUID) error
}

// CommandListener consumes operator commands from Kafka. Currently the
// only command is an explicit target reset, the sole path out of the
// stalled status.
type CommandListener struct {
	reader   *kafka.Reader
	resetter TargetResetter
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewCommandListener creates a listener on the configured command topic.
func NewCommandListener(cfg config.KafkaConfig, resetter TargetResetter, logger zerolog.Logger) *CommandListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.CommandsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return &CommandListener{
		reader:   reader,
		resetter: resetter,
		validate: validator.New(),
		logger:   logger.With().Str("component", "command_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting command listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		var cmd OperatorCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal operator command")
			continue
		}

		if err := l.validate.Struct(cmd); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("malformed operator command")
			continue
		}

		if err := l.handle(ctx, cmd); err != nil {
			l.logger.Error().Err(err).
				Str("command", cmd.Command).
				Str("target_id", cmd.TargetID.String()).
				Msg("failed to handle operator command")
		}
	}
}

func (l *CommandListener) handle(ctx context.Context, cmd OperatorCommand) error {
	switch cmd.Command {
	case CommandResetTarget:
		l.logger.Info().
			Str("target_id", cmd.TargetID.String()).
			Str("requested_by", cmd.RequestedBy).
			Msg("resetting stalled target")
		return l.resetter.Reset(ctx, cmd.TargetID)
	default:
		l.logger.Warn().Str("command", cmd.Command).Msg("unknown operator command, skipping")
		return nil
	}
}

// Close closes the Kafka reader.
func (l *CommandListener) Close() error {
	l.logger.Info().Msg("closing command listener")
	return l.reader.Close()
}
