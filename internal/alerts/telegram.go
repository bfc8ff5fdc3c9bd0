package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evm-dip-bot/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	symbol  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, symbol string, log *zap.Logger) *Telegram {
	return newTelegram(cfg, symbol, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, symbol string, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		symbol:  symbol,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// NotifyTrade reports an executed or failed trade. Failures to deliver are
// logged, never propagated; alerting must not disturb the loop.
func (t *Telegram) NotifyTrade(ctx context.Context, side string, priceUSD decimal.Decimal, txHash string, execErr error) {
	var msg string
	if execErr != nil {
		msg = fmt.Sprintf("%s %s FAILED at $%s: %v", strings.ToUpper(side), t.symbol, priceUSD.StringFixed(6), execErr)
	} else {
		msg = fmt.Sprintf("%s %s at $%s (tx %s)", strings.ToUpper(side), t.symbol, priceUSD.StringFixed(6), txHash)
	}
	if err := t.Send(ctx, msg); err != nil {
		t.log.Warn("telegram trade alert failed", zap.Error(err))
	}
}

// NotifyStuckReplaced reports a cancel-and-replace of a stuck transaction.
func (t *Telegram) NotifyStuckReplaced(ctx context.Context, cancelHash string) {
	msg := fmt.Sprintf("replaced stuck transaction, cancel tx %s", cancelHash)
	if err := t.Send(ctx, msg); err != nil {
		t.log.Warn("telegram stuck-tx alert failed", zap.Error(err))
	}
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram send failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			desc := strings.TrimSpace(result.Description)
			if desc == "" {
				desc = "unknown telegram error"
			}
			return fmt.Errorf("telegram send failed: %s", desc)
		}
	}
	return nil
}
