package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

// DigestService sends a once-a-day summary of every linked owner's tasks.
type DigestService struct {
	tasks  *TaskService
	links  *LinkService
	sender Sender
	clk    clock.Clock
	logger *zap.SugaredLogger
}

func NewDigestService(tasks *TaskService, links *LinkService, sender Sender, clk clock.Clock, logger *zap.SugaredLogger) *DigestService {
	return &DigestService{tasks: tasks, links: links, sender: sender, clk: clk, logger: logger}
}

// Summary builds the digest text for one recipient.
func (s *DigestService) Summary(ctx context.Context, r Recipient) (string, error) {
	board, err := s.tasks.Board(ctx, r.OwnerID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Daily digest</b>\n")
	sb.WriteString(fmt.Sprintf("🗓 %s\n\n", s.clk.Now().In(r.Location).Format("02.01.2006")))
	sb.WriteString(FormatBoard(board))
	return strings.TrimSpace(sb.String()), nil
}

// SendAll delivers the digest to every linked owner. Failures for a single
// owner are logged and skipped.
func (s *DigestService) SendAll(ctx context.Context) error {
	recipients, err := s.links.Linked(ctx)
	if err != nil {
		return fmt.Errorf("list linked owners: %w", err)
	}

	sent := 0
	for _, r := range recipients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text, err := s.Summary(ctx, r)
		if err != nil {
			s.logger.Errorw("build digest", "owner", r.OwnerID, "err", err)
			continue
		}
		if err := s.sender.Send(ctx, r.Endpoint, text); err != nil {
			s.logger.Errorw("send digest", "owner", r.OwnerID, "endpoint", r.Endpoint, "err", err)
			continue
		}
		sent++
	}

	s.logger.Infow("digest sent", "recipients", len(recipients), "delivered", sent)
	return nil
}
