package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mrsonukr/instaguruv2-sub000/internal/config"
	"github.com/mrsonukr/instaguruv2-sub000/internal/configstore"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
	"github.com/mrsonukr/instaguruv2-sub000/internal/utils"
)

// AdminHandler covers the operator surface: login, credential rotation
// and reporting.
type AdminHandler struct {
	db     *gorm.DB
	cfg    *config.Config
	config *configstore.Store
}

func NewAdminHandler(db *gorm.DB, cfg *config.Config, store *configstore.Store) *AdminHandler {
	return &AdminHandler{db: db, cfg: cfg, config: store}
}

type loginRequest struct {
	Passcode string `json:"passcode"`
}

// Login exchanges the operator passcode for a JWT.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if h.cfg.AdminPasscodeHash == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "operator access not configured")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPasscodeHash), []byte(req.Passcode)); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid passcode")
	}

	token, err := utils.GenerateAdminToken(h.cfg.JWTSecret, h.cfg.TokenExpires)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "token": token})
}

type rotateTokenRequest struct {
	Token     string `json:"token"`
	UpdatedBy string `json:"updated_by"`
}

// RotateToken replaces the aggregator bearer credential.
func (h *AdminHandler) RotateToken(c *fiber.Ctx) error {
	var req rotateTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		return badRequest(c, "token is required")
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = "operator"
	}

	if err := h.config.Set(c.Context(), configstore.KeyAggregatorToken, req.Token, req.UpdatedBy); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true})
}

// TokenAudit returns the rotation history of the aggregator credential.
func (h *AdminHandler) TokenAudit(c *fiber.Ctx) error {
	rows, err := h.config.Audit(c.Context(), configstore.KeyAggregatorToken, 50)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// DailyStats aggregates the webhook audit log into per-day totals.
func (h *AdminHandler) DailyStats(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days <= 0 || days > 90 {
		days = 7
	}

	type dayRow struct {
		Day        string `json:"day"`
		Events     int64  `json:"events"`
		TotalMinor int64  `json:"total_minor"`
	}

	var rows []dayRow
	if err := h.db.Model(&models.WebhookEvent{}).
		Select("date(created_at) as day, count(*) as events, COALESCE(SUM(amount_minor), 0) as total_minor").
		Group("date(created_at)").
		Order("day desc").
		Limit(days).
		Scan(&rows).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": rows})
}
