package handlers

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	qrcode "github.com/skip2/go-qrcode"
)

// QRHandler renders UPI deep-link QR codes for the storefront.
type QRHandler struct {
	upiAddress string
	payeeName  string
}

func NewQRHandler(upiAddress, payeeName string) *QRHandler {
	return &QRHandler{upiAddress: upiAddress, payeeName: payeeName}
}

// Generate returns a PNG QR code encoding upi://pay for the given
// amount in paise.
func (h *QRHandler) Generate(c *fiber.Ctx) error {
	if h.upiAddress == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "UPI address not configured")
	}

	paise, err := strconv.ParseInt(c.Params("paise"), 10, 64)
	if err != nil || paise <= 0 {
		return badRequest(c, "invalid amount")
	}

	q := url.Values{}
	q.Set("pa", h.upiAddress)
	q.Set("pn", h.payeeName)
	q.Set("am", fmt.Sprintf("%d.%02d", paise/100, paise%100))
	q.Set("cu", "INR")
	link := "upi://pay?" + q.Encode()

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
