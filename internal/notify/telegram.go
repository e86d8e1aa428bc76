package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mrsonukr/instaguruv2-sub000/internal/events"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// TelegramService posts operator notifications to a list of admin
// chats. Everything here is best-effort: a failed send for one chat is
// logged and must not stop sends to the others, and no caller on the
// payment path ever waits on the result.
type TelegramService struct {
	botToken string
	chatIDs  []string
}

// NewTelegramService creates a TelegramService. adminChats is a
// comma-separated chat id list.
func NewTelegramService(botToken, adminChats string) *TelegramService {
	var ids []string
	for _, id := range strings.Split(adminChats, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return &TelegramService{botToken: botToken, chatIDs: ids}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to one chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// Broadcast fans the message out to every admin chat independently.
func (s *TelegramService) Broadcast(text string) {
	if len(s.chatIDs) == 0 {
		log.Println("[Telegram] No admin chats configured")
		return
	}
	for _, chatID := range s.chatIDs {
		if err := s.SendMessage(chatID, text); err != nil {
			log.Printf("[Telegram] Send to chat %s failed: %v", chatID, err)
		}
	}
}

// FormatPaise renders an amount in minor units as rupees.
func FormatPaise(amountMinor int64) string {
	return fmt.Sprintf("₹%d.%02d", amountMinor/100, amountMinor%100)
}

// Handle maps domain events to operator messages. Satisfies
// events.Handler.
func (s *TelegramService) Handle(_ context.Context, ev events.Event) {
	var text string
	switch ev.Kind {
	case events.OrderDispatched:
		text = fmt.Sprintf(`<b>✅ NEW ORDER PLACED</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>UTR:</b> <code>%s</code>
<b>Provider:</b> %s (#%s)`,
			ev.OrderID, FormatPaise(ev.AmountMinor), ev.UTR, ev.Provider, ev.ProviderOrderID)
	case events.DispatchFailed:
		text = fmt.Sprintf(`<b>⚠️ ORDER NEEDS MANUAL PLACEMENT</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>UTR:</b> <code>%s</code>
<b>Reason:</b> %s`,
			ev.OrderID, FormatPaise(ev.AmountMinor), ev.UTR, ev.Reason)
	case events.OrderFunded:
		text = fmt.Sprintf(`<b>💰 PAYMENT MATCHED</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>UTR:</b> <code>%s</code>`,
			ev.OrderID, FormatPaise(ev.AmountMinor), ev.UTR)
	case events.AuthExpired:
		text = "<b>🔑 AGGREGATOR TOKEN EXPIRED</b>\nLive transaction polling is failing with an auth error. Rotate the bearer token."
	default:
		log.Printf("[Telegram] Unknown event kind %q", ev.Kind)
		return
	}
	s.Broadcast(strings.TrimSpace(text))
}
