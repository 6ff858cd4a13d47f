package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind names a payment milestone worth telling operators about.
type Kind string

const (
	KindPaymentProcessing Kind = "payment_processing"
	KindPaymentReceived   Kind = "payment_received"
	KindOfframpCreated    Kind = "offramp_created"
	KindOfframpCompleted  Kind = "offramp_completed"
	KindQuoteExpired      Kind = "quote_expired"
)

// Notification carries the payment context of an alert.
type Notification struct {
	Kind          Kind
	At            time.Time
	SessionID     string
	TransactionID string
	AmountUSD     decimal.Decimal
	AmountLocal   decimal.Decimal
	Message       string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return errors.New("telegram returned ok=false")
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("session_id", note.SessionID).
		Str("transaction_id", note.TransactionID).
		Msg("notification sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Tuition Payment] %s\n", strings.ReplaceAll(string(note.Kind), "_", " "))
	if !note.At.IsZero() {
		fmt.Fprintf(&b, "At: %s UTC\n", note.At.UTC().Format(time.RFC3339))
	}
	if note.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", note.SessionID)
	}
	if note.TransactionID != "" {
		fmt.Fprintf(&b, "Transaction: %s\n", note.TransactionID)
	}
	if note.AmountUSD.IsPositive() {
		fmt.Fprintf(&b, "Amount: %s USD\n", note.AmountUSD.StringFixed(2))
	}
	if note.AmountLocal.IsPositive() {
		fmt.Fprintf(&b, "Local: %s BRL\n", note.AmountLocal.StringFixed(2))
	}
	if note.Message != "" {
		b.WriteString(note.Message)
	}
	return b.String()
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("session_id", note.SessionID).
		Str("transaction_id", note.TransactionID).
		Str("amount_usd", note.AmountUSD.String()).
		Msg(note.Message)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
