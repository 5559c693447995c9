package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"stembot/internal/service"
)

// Bot aggregates Telegram API with services.
type Bot struct {
	api    *tgbotapi.BotAPI
	links  *service.LinkService
	tasks  *service.TaskService
	logger *zap.SugaredLogger
}

func New(api *tgbotapi.BotAPI, links *service.LinkService, tasks *service.TaskService, logger *zap.SugaredLogger) *Bot {
	return &Bot{
		api:    api,
		links:  links,
		tasks:  tasks,
		logger: logger,
	}
}

// NewAPI authorizes the bot token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Infow("start polling updates", "account", b.api.Self.UserName)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			continue
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.logger.Errorw("handle message", "chat", update.Message.Chat.ID, "err", err)
		}
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	endpoint := strconv.FormatInt(msg.Chat.ID, 10)

	var text string
	if msg.IsCommand() {
		b.logger.Debugw("command", "chat", msg.Chat.ID, "command", msg.Command())
		text = b.respond(ctx, endpoint, msg.Command(), msg.CommandArguments())
	} else {
		text = unknownInputText
	}

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}
