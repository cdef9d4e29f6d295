package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kwanza-pay/kwanza_pay/internal/identity"
)

// Handler exposes registration and token endpoints.
type Handler struct {
	identitySvc *identity.Service
	authSvc     *Service
}

// NewHandler builds an auth HTTP handler.
func NewHandler(identitySvc *identity.Service, authSvc *Service) *Handler {
	return &Handler{identitySvc: identitySvc, authSvc: authSvc}
}

type registerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	PIN   string `json:"pin"`
}

// Register provisions a new owner account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	user, err := h.identitySvc.Register(c.UserContext(), identity.RegisterInput{
		Phone: req.Phone,
		Name:  req.Name,
		PIN:   req.PIN,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"user_id": user.ID,
		"phone":   user.Phone,
		"status":  user.Status,
	})
}

type loginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// Login verifies credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	user, err := h.identitySvc.Authenticate(c.UserContext(), identity.Credentials{Phone: req.Phone, PIN: req.PIN})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
	}

	pair, err := h.authSvc.Login(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "token issuance failed")
	}
	return c.Status(http.StatusOK).JSON(pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new access token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	access, expiresIn, err := h.authSvc.Refresh(req.RefreshToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid refresh token")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"access_token": access,
		"expires_in":   expiresIn,
	})
}
