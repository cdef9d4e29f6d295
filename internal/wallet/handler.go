package wallet

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes the engine's operations over HTTP. Translating error kinds
// to transport status codes happens only here.
type Handler struct {
	engine *Engine
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type operationRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	AssetType      string          `json:"asset_type"`
	Description    string          `json:"description"`
	ReferenceID    string          `json:"reference_id"`
}

// TopUp handles POST /wallets/topup.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	return h.mutation(c, h.engine.TopUp)
}

// GrantIncentive handles POST /wallets/incentive.
func (h *Handler) GrantIncentive(c *fiber.Ctx) error {
	return h.mutation(c, h.engine.GrantIncentive)
}

// Spend handles POST /wallets/spend.
func (h *Handler) Spend(c *fiber.Ctx) error {
	return h.mutation(c, h.engine.Spend)
}

func (h *Handler) mutation(c *fiber.Ctx, op func(ctx context.Context, ownerID string, req OperationRequest) (OperationResult, error)) error {
	ownerID, err := ownerFromLocals(c)
	if err != nil {
		return err
	}

	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.IdempotencyKey == "" {
		return fiber.NewError(http.StatusBadRequest, "idempotency_key is required")
	}
	asset, err := ParseAssetType(req.AssetType)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := op(c.UserContext(), ownerID, OperationRequest{
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		AssetType:      asset,
		Description:    req.Description,
		ReferenceID:    req.ReferenceID,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(result)
}

// Balance handles GET /wallets/balance?asset_type=COIN.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ownerID, err := ownerFromLocals(c)
	if err != nil {
		return err
	}
	asset, err := ParseAssetType(c.Query("asset_type"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	view, err := h.engine.GetBalance(c.UserContext(), ownerID, asset)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// History handles GET /wallets/transactions?asset_type=&from_time=&to_time=&limit=.
func (h *Handler) History(c *fiber.Ctx) error {
	ownerID, err := ownerFromLocals(c)
	if err != nil {
		return err
	}
	asset, err := ParseAssetType(c.Query("asset_type"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var from, to *time.Time
	if v := c.Query("from_time"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "from_time must be RFC3339")
		}
		from = &parsed
	}
	if v := c.Query("to_time"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "to_time must be RFC3339")
		}
		to = &parsed
	}
	limit := c.QueryInt("limit", DefaultHistoryLimit)

	view, err := h.engine.GetHistory(c.UserContext(), ownerID, asset, from, to, limit)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

func ownerFromLocals(c *fiber.Ctx) (string, error) {
	ownerID, _ := c.Locals("owner_id").(string)
	if ownerID == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing authenticated owner")
	}
	return ownerID, nil
}

// mapError converts engine error kinds to transport status codes without
// leaking internal detail for unclassified failures.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUserNotActive):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrDuplicateIdempotencyKey), errors.Is(err, ErrConcurrentModification):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "transaction processing failed")
	}
}
