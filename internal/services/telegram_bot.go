package services

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"taskhub/internal/config"
	"taskhub/internal/models"
)

// Notifier delivers operational messages. Implementations must not block the caller.
type Notifier interface {
	TaskAssigned(task models.Task)
	OverdueDigest(count int)
}

// telegramSender is the part of *tgbotapi.BotAPI the notifier uses.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts to a single ops chat.
type TelegramNotifier struct {
	api    telegramSender
	chatID int64
	log    logrus.FieldLogger
	wg     sync.WaitGroup
}

// NewTelegramNotifier connects to the Bot API. It returns nil, nil when
// Telegram is not configured so callers can pass the result straight on.
func NewTelegramNotifier(cfg config.TelegramConfig, log logrus.FieldLogger) (*TelegramNotifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	log.WithField("bot", api.Self.UserName).Info("[tg] authorized")
	return newTelegramNotifier(api, cfg.ChatID, log), nil
}

func newTelegramNotifier(api telegramSender, chatID int64, log logrus.FieldLogger) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatID: chatID, log: log}
}

func (n *TelegramNotifier) TaskAssigned(task models.Task) {
	var b strings.Builder
	b.WriteString("New task assigned")
	if task.AssignedTo != nil {
		fmt.Fprintf(&b, " to %s", task.AssignedTo.Username)
	}
	if task.CreatedBy != nil {
		fmt.Fprintf(&b, " by %s", task.CreatedBy.Username)
	}
	fmt.Fprintf(&b, "\n%s\npriority: %s, status: %s", task.Title, task.Priority, task.Status)
	if task.DueDate != nil {
		fmt.Fprintf(&b, "\ndue: %s", task.DueDate.Format("2006-01-02 15:04"))
	}
	n.sendAsync(b.String())
}

func (n *TelegramNotifier) OverdueDigest(count int) {
	if count == 0 {
		return
	}
	n.sendAsync(fmt.Sprintf("Overdue tasks: %d not completed past their due date", count))
}

func (n *TelegramNotifier) sendAsync(text string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		msg := tgbotapi.NewMessage(n.chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.api.Send(msg); err != nil {
			n.log.WithError(err).WithField("chat_id", n.chatID).Warn("[tg][send] failed")
		}
	}()
}

// Wait blocks until in-flight messages are sent. Called on shutdown.
func (n *TelegramNotifier) Wait() {
	n.wg.Wait()
}
