package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

const commandTimeout = 30 * time.Second

// StartCampaignCommandSubscriber routes queued commands to commander.
// Commands the campaign state rejects are logged and acknowledged; only infrastructure errors are retried.
func StartCampaignCommandSubscriber(q Queue, topic string, commander service.CampaignCommander, log logger.Logger) error {
	if err := q.Subscribe(topic, func(payload any) error {
		return HandleCommand(commander, payload, log)
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	log.Info("campaign command subscriber started", map[string]interface{}{"topic": topic})
	return nil
}

// HandleCommand decodes and applies one command payload.
func HandleCommand(commander service.CampaignCommander, payload any, log logger.Logger) error {
	body, err := commandBytes(payload)
	if err != nil {
		return err
	}
	cmd, err := DecodeCommand(body)
	if err != nil {
		log.Warn("invalid campaign command", map[string]interface{}{"error": err})
		return err
	}

	cmdLog := log.WithFields(map[string]interface{}{
		"request_id":  cmd.RequestID,
		"command":     string(cmd.Command),
		"campaign_id": cmd.CampaignID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var ack *service.Ack
	switch cmd.Command {
	case CommandStart:
		ack, err = commander.Start(ctx, cmd.CampaignID)
	case CommandPause:
		ack, err = commander.Pause(ctx, cmd.CampaignID)
	case CommandResume:
		ack, err = commander.Resume(ctx, cmd.CampaignID)
	case CommandCancel:
		ack, err = commander.Cancel(ctx, cmd.CampaignID)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}

	if err != nil {
		if rejected(err) {
			cmdLog.Warn("campaign command rejected", map[string]interface{}{"error": err})
			return nil
		}
		cmdLog.Error("campaign command failed", map[string]interface{}{"error": err})
		return err
	}
	cmdLog.Info("campaign command applied", map[string]interface{}{
		"accepted":        ack.Accepted,
		"already_running": ack.AlreadyRunning,
		"status":          string(ack.Status),
	})
	return nil
}

// rejected reports errors that retrying the same command cannot fix.
func rejected(err error) bool {
	var setupErr *appErrors.SetupError
	return appErrors.IsNotFound(err) ||
		errors.Is(err, appErrors.ErrInvalidTransition) ||
		errors.Is(err, appErrors.ErrCampaignNotRunning) ||
		errors.Is(err, appErrors.ErrAlreadyRunning) ||
		errors.As(err, &setupErr)
}
