package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a fired alert somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event models.AlertEvent) error
}

// TelegramNotifier posts alerts through the Bot API sendMessage method.
type TelegramNotifier struct {
	apiURL string
	chatID string
	client *http.Client
	logger *logrus.Logger
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(baseURL, token, chatID string, logger *logrus.Logger) *TelegramNotifier {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		apiURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(baseURL, "/"), token),
		chatID: chatID,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) Notify(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  FormatMessage(event),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram API error %d: %s", out.ErrorCode, out.Description)
	}

	t.logger.WithFields(logrus.Fields{
		"alert_id": event.AlertID,
		"symbol":   event.Symbol,
	}).Debug("Telegram alert sent")
	return nil
}

// AlertPublisher is satisfied by pubsub.Publisher.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, event models.AlertEvent) error
}

// PubSubNotifier republishes alerts on the Redis alerts channel.
type PubSubNotifier struct {
	publisher AlertPublisher
}

func NewPubSubNotifier(publisher AlertPublisher) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher}
}

func (p *PubSubNotifier) Name() string {
	return "pubsub"
}

func (p *PubSubNotifier) Notify(ctx context.Context, event models.AlertEvent) error {
	return p.publisher.PublishAlert(ctx, event)
}

// MultiNotifier fans an event out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Name() string {
	names := make([]string, len(m))
	for i, n := range m {
		names[i] = n.Name()
	}
	return strings.Join(names, ",")
}

func (m MultiNotifier) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			metrics.NotificationFailures.WithLabelValues(n.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FormatMessage renders an alert event as plain text.
func FormatMessage(event models.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", event.Symbol, event.Timeframe, describe(event.Condition))
	fmt.Fprintf(&b, "price %s, reference %s\n", formatFloat(event.Price), formatFloat(event.Reference))
	if event.Note != "" {
		fmt.Fprintf(&b, "%s\n", event.Note)
	}
	b.WriteString(event.FiredAt.UTC().Format(time.RFC3339))
	return b.String()
}

func describe(c models.AlertCondition) string {
	switch c {
	case models.ConditionPriceAbove:
		return "price above threshold"
	case models.ConditionPriceBelow:
		return "price below threshold"
	case models.ConditionVWAPCrossUp:
		return "close crossed above VWAP"
	case models.ConditionVWAPCrossDown:
		return "close crossed below VWAP"
	}
	return string(c)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
