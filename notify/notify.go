// Package notify delivers recovery requests to guardians.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// ChannelPrefix is the pub/sub channel prefix, one channel per guardian:
// recovery:notify:{guardianId}
const ChannelPrefix = "recovery:notify:"

// Message is the JSON document published to a guardian.
type Message struct {
	Type              string    `json:"type"`
	RecoveryID        string    `json:"recovery_id"`
	UserID            string    `json:"user_id"`
	RequiredApprovals int       `json:"required_approvals"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// MessageFor builds the notification sent for a session.
func MessageFor(session interfaces.RecoverySession) Message {
	return Message{
		Type:              "recovery_requested",
		RecoveryID:        session.RecoveryID,
		UserID:            session.UserID,
		RequiredApprovals: session.RequiredThreshold,
		ExpiresAt:         session.ExpiresAt,
	}
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes one message per requested guardian over Redis pub/sub.
type RedisNotifier struct {
	rdb publisher
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) NotifyGuardians(ctx context.Context, session interfaces.RecoverySession) error {
	payload, err := json.Marshal(MessageFor(session))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	var errs []error
	for _, guardianID := range session.GuardiansRequested {
		receivers, err := n.rdb.Publish(ctx, ChannelPrefix+guardianID, payload).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", guardianID, err))
			continue
		}
		if receivers == 0 {
			n.log.Debug("No subscriber for guardian notification",
				slog.String("guardian_id", guardianID),
				slog.String("recovery_id", session.RecoveryID))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs the notification. Used when no transport is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyGuardians(_ context.Context, session interfaces.RecoverySession) error {
	for _, guardianID := range session.GuardiansRequested {
		n.log.Info("Guardian notified of recovery request",
			slog.String("guardian_id", guardianID),
			slog.String("recovery_id", session.RecoveryID),
			slog.String("user_id", session.UserID),
			slog.Time("expires_at", session.ExpiresAt))
	}
	return nil
}
