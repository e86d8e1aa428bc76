package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/matcher"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
	"github.com/mrsonukr/instaguruv2-sub000/internal/paygate"
)

var forwardClient = &http.Client{Timeout: 10 * time.Second}

// PaymentHandler owns the webhook ingestion and amount-poll endpoints.
type PaymentHandler struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	matcher    *matcher.Matcher
	forwardURL string
}

func NewPaymentHandler(db *gorm.DB, ldg *ledger.Ledger, m *matcher.Matcher, forwardURL string) *PaymentHandler {
	return &PaymentHandler{db: db, ledger: ldg, matcher: m, forwardURL: forwardURL}
}

type webhookRequest struct {
	UTR      string          `json:"utr"`
	TxnID    string          `json:"txn_id"`
	OrderID  string          `json:"order_id"`
	Status   string          `json:"status"`
	Amount   json.RawMessage `json:"amount"`
	CreateAt int64           `json:"create_at"`
}

// parseAmount accepts both `"45.00"` and `45.00`; gateways disagree on
// which one they send.
func parseAmount(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Webhook ingests a generic aggregator push callback.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if req.UTR == "" || req.TxnID == "" || req.OrderID == "" || req.Status == "" {
		return badRequest(c, "utr, txn_id, order_id and status are required")
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		return badRequest(c, "amount is required")
	}

	receivedAt := req.CreateAt
	if receivedAt == 0 {
		receivedAt = time.Now().UnixMilli()
	}

	txn := &models.Transaction{
		UTR:          req.UTR,
		AmountMinor:  paygate.MinorUnits(amount),
		PayerName:    req.OrderID,
		PayerChannel: "webhook",
		ReceivedAt:   receivedAt,
	}

	if err := h.ledger.UpsertIfAbsent(c.Context(), txn); err != nil {
		return err
	}

	h.recordAudit(c.Context(), "webhook", txn.UTR, txn.AmountMinor, c.Body())
	h.forward(txn)

	stored, err := h.ledger.GetByUTR(c.Context(), txn.UTR)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": stored})
}

type razorpayEvent struct {
	Entity  string `json:"entity"`
	Payload struct {
		Payment struct {
			Entity struct {
				AcquirerData struct {
					RRN string `json:"rrn"`
				} `json:"acquirer_data"`
				Amount    int64  `json:"amount"`
				VPA       string `json:"vpa"`
				CreatedAt int64  `json:"created_at"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// RazorpayWebhook ingests a Razorpay-shaped push callback. Amount is
// already in paise here.
func (h *PaymentHandler) RazorpayWebhook(c *fiber.Ctx) error {
	var ev razorpayEvent
	if err := c.BodyParser(&ev); err != nil {
		return badRequest(c, "invalid request body")
	}

	payment := ev.Payload.Payment.Entity
	if ev.Entity != "event" || payment.AcquirerData.RRN == "" || payment.Amount <= 0 || payment.VPA == "" {
		return badRequest(c, "entity, rrn, amount and vpa are required")
	}

	receivedAt := payment.CreatedAt * 1000
	if receivedAt <= 0 {
		receivedAt = time.Now().UnixMilli()
	}

	txn := &models.Transaction{
		UTR:          payment.AcquirerData.RRN,
		AmountMinor:  payment.Amount,
		PayerName:    payment.VPA,
		PayerChannel: "razorpay",
		ReceivedAt:   receivedAt,
	}

	if err := h.ledger.UpsertIfAbsent(c.Context(), txn); err != nil {
		return err
	}

	h.recordAudit(c.Context(), "razorpay", txn.UTR, txn.AmountMinor, c.Body())
	h.forward(txn)

	stored, err := h.ledger.GetByUTR(c.Context(), txn.UTR)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": stored})
}

// AmountCheck answers the SPA's "has my payment arrived" poll.
func (h *PaymentHandler) AmountCheck(c *fiber.Ctx) error {
	paise, err := strconv.ParseInt(c.Params("paise"), 10, 64)
	if err != nil || paise <= 0 {
		return badRequest(c, "invalid amount")
	}

	res, err := h.matcher.Match(c.Context(), paise)
	if err != nil {
		return err
	}

	if res.Status == matcher.Funded {
		return c.JSON(fiber.Map{
			"success":     true,
			"orderplaced": false,
			"amount":      paise,
			"payment_id":  res.Txn.UTR,
		})
	}

	// Nothing unconsumed: a recently consumed payment of this amount
	// means the client's own order already went through.
	notBefore := time.Now().Add(-h.matcher.Lookback()).UnixMilli()
	consumed, err := h.ledger.FindRecentlyConsumed(c.Context(), paise, notBefore)
	if err != nil {
		return err
	}
	if consumed != nil && consumed.BoundOrderID != nil {
		return c.JSON(fiber.Map{
			"success":     true,
			"orderplaced": true,
			"amount":      paise,
			"payment_id":  consumed.UTR,
			"orderid":     *consumed.BoundOrderID,
		})
	}

	return c.JSON(fiber.Map{
		"success": false,
		"amount":  paise,
		"message": "Payment not received yet",
	})
}

func (h *PaymentHandler) recordAudit(ctx context.Context, source, utr string, amountMinor int64, raw []byte) {
	event := models.WebhookEvent{
		Source:      source,
		UTR:         utr,
		AmountMinor: amountMinor,
		RawPayload:  append([]byte(nil), raw...),
	}
	if err := h.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Printf("[Webhook] Audit write failed for %s: %v", utr, err)
	}
}

// forward mirrors the normalized record to a downstream copy,
// fire-and-forget. A failure here never fails the webhook response.
func (h *PaymentHandler) forward(txn *models.Transaction) {
	if h.forwardURL == "" {
		return
	}
	payload, err := json.Marshal(txn)
	if err != nil {
		return
	}
	go func() {
		resp, err := forwardClient.Post(h.forwardURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("[Webhook] Forward to mirror failed: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("[Webhook] Mirror returned status %d", resp.StatusCode)
		}
	}()
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}
