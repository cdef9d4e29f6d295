package wallet

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kwanza-pay/kwanza_pay/internal/identity"
	"github.com/kwanza-pay/kwanza_pay/internal/logging"
)

func setupHandlerApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	store := NewMemoryStore()
	users := identity.NewMemoryRepository()
	owner := identity.User{ID: uuid.NewString(), Phone: "+244900000001", Status: identity.StatusActive}
	if err := users.Create(context.Background(), owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	engine := NewEngine(store, users, nil, 24*time.Hour, logging.Discard())
	handler := NewHandler(engine)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("owner_id", owner.ID)
		return c.Next()
	})
	app.Post("/wallets/topup", handler.TopUp)
	app.Post("/wallets/spend", handler.Spend)
	app.Get("/wallets/balance", handler.Balance)
	app.Get("/wallets/transactions", handler.History)
	return app, owner.ID
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestTopUpEndpoint(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, body := postJSON(t, app, "/wallets/topup", `{"idempotency_key":"h-1","amount":"150.25","asset_type":"COIN"}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["balance_after"] != "150.25" {
		t.Fatalf("unexpected balance_after: %v", body["balance_after"])
	}
	if body["message"] != "Top-up successful" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestTopUpEndpointRequiresIdempotencyKey(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, _ := postJSON(t, app, "/wallets/topup", `{"amount":"10","asset_type":"COIN"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestTopUpEndpointRejectsUnknownAsset(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, _ := postJSON(t, app, "/wallets/topup", `{"idempotency_key":"h-2","amount":"10","asset_type":"GOLD"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestSpendEndpointInsufficientBalance(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, _ := postJSON(t, app, "/wallets/spend", `{"idempotency_key":"h-3","amount":"10","asset_type":"COIN"}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestBalanceEndpointUnknownWallet(t *testing.T) {
	app, _ := setupHandlerApp(t)

	req := httptest.NewRequest(fiber.MethodGet, "/wallets/balance?asset_type=COIN", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	app, _ := setupHandlerApp(t)

	if status, _ := postJSON(t, app, "/wallets/topup", `{"idempotency_key":"h-4","amount":"10","asset_type":"COIN"}`); status != fiber.StatusOK {
		t.Fatalf("seed topup failed: %d", status)
	}
	if status, _ := postJSON(t, app, "/wallets/spend", `{"idempotency_key":"h-5","amount":"4","asset_type":"COIN"}`); status != fiber.StatusOK {
		t.Fatalf("seed spend failed: %d", status)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/wallets/transactions?asset_type=COIN", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var view struct {
		CurrentBalance string `json:"current_balance"`
		Transactions   []struct {
			Kind         string `json:"kind"`
			BalanceAfter string `json:"balance_after"`
		} `json:"transactions"`
	}
	payload, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(payload, &view); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if view.CurrentBalance != "6" {
		t.Fatalf("unexpected current balance: %s", view.CurrentBalance)
	}
	if len(view.Transactions) != 2 || view.Transactions[0].Kind != "DEBIT" {
		t.Fatalf("unexpected transactions: %+v", view.Transactions)
	}

	badReq := httptest.NewRequest(fiber.MethodGet, "/wallets/transactions?asset_type=COIN&from_time=yesterday", nil)
	badResp, err := app.Test(badReq)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if badResp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad from_time, got %d", badResp.StatusCode)
	}
}
