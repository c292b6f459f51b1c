package delivery

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/inkflow-ai/inkflow/internal/config"
	"go.uber.org/zap"
)

type telegramTransport struct {
	bot *bot.Bot
}

// NewTransport builds the telegram transport, or nil when no bot token is
// configured. A nil transport leaves the engine fully functional minus chat
// push.
func NewTransport(cfg config.Config, log *zap.Logger) (Transport, error) {
	token := cfg.Delivery.TelegramToken
	if token == "" {
		log.Named("delivery.telegram").Info("telegram token not set, chat delivery disabled")
		return nil, nil
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, err
	}
	return &telegramTransport{bot: b}, nil
}

func (t *telegramTransport) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

func (t *telegramTransport) SendPhoto(ctx context.Context, chatID int64, url string) error {
	_, err := t.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: chatID,
		Photo:  &models.InputFileString{Data: url},
	})
	return err
}

func (t *telegramTransport) SendDocument(ctx context.Context, chatID int64, url string) error {
	_, err := t.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileString{Data: url},
	})
	return err
}
