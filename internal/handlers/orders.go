package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
	"github.com/mrsonukr/instaguruv2-sub000/internal/paygate"
	"github.com/mrsonukr/instaguruv2-sub000/internal/register"
	"github.com/mrsonukr/instaguruv2-sub000/internal/utils"
)

// OrderHandler manages order submission and lookups.
type OrderHandler struct {
	db       *gorm.DB
	register *register.Register
}

func NewOrderHandler(db *gorm.DB, reg *register.Register) *OrderHandler {
	return &OrderHandler{db: db, register: reg}
}

type newOrderRequest struct {
	ID       string  `json:"id"`
	Quantity int     `json:"quantity"`
	Link     string  `json:"link"`
	Amount   float64 `json:"amount"`
	Service  string  `json:"service"`
}

// NewOrder submits an order against a funded payment. Amount arrives in
// rupees and is compared in paise.
func (h *OrderHandler) NewOrder(c *fiber.Ctx) error {
	var req newOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Link = strings.TrimSpace(req.Link)
	req.Service = strings.TrimSpace(req.Service)
	if req.ID == "" || req.Link == "" || req.Service == "" || req.Amount <= 0 {
		return badRequest(c, "id, link, service and amount are required")
	}

	order, err := h.register.Submit(c.Context(), register.SubmitRequest{
		OrderID:     req.ID,
		AmountMinor: paygate.MinorUnits(req.Amount),
		Link:        req.Link,
		Service:     req.Service,
		Quantity:    req.Quantity,
	})
	if err != nil {
		switch {
		case errors.Is(err, register.ErrDuplicateOrder):
			return badRequest(c, "ORDER_ID_EXISTS")
		case errors.Is(err, register.ErrNoFunding), errors.Is(err, register.ErrRaceLost):
			return badRequest(c, "INVALID_ORDER")
		default:
			return err
		}
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"order_id":     order.OrderID,
		"amount_paise": order.RequestedAmountMinor,
		"smm": fiber.Map{
			"status":            order.Status,
			"provider":          order.Provider,
			"provider_order_id": order.ProviderOrderID,
			"failure_reason":    order.FailureReason,
		},
	})
}

// ListOrders returns orders, newest first.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Order{})

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.
		Order("created_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetOrder returns one order by its client-supplied id.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id := c.Params("id")

	var order models.Order
	if err := h.db.Where("order_id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "order not found",
			})
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// Search looks an order up by order id, provider order id, or UTR.
func (h *OrderHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		return badRequest(c, "query is required")
	}

	var orders []models.Order
	if err := h.db.
		Where("order_id = ? OR provider_order_id = ? OR utr = ?", query, query, query).
		Limit(20).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": orders})
}
