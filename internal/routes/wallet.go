package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kwanza-pay/kwanza_pay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints. Balance-changing
// endpoints pass through the mutation rate limiter.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, rateLimit fiber.Handler) {
	r.Post("/wallets/topup", rateLimit, h.TopUp)
	r.Post("/wallets/incentive", rateLimit, h.GrantIncentive)
	r.Post("/wallets/spend", rateLimit, h.Spend)
	r.Get("/wallets/balance", h.Balance)
	r.Get("/wallets/transactions", h.History)
}
