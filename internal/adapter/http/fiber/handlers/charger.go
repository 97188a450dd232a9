package handlers

import (
	"errors"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/ports"
)

// ChargerHandler exposes the central system to operators.
type ChargerHandler struct {
	central ports.CentralSystem
	devices ports.DeviceService
	txs     ports.TransactionService
	log     *zap.Logger
}

func NewChargerHandler(central ports.CentralSystem, devices ports.DeviceService, txs ports.TransactionService, log *zap.Logger) *ChargerHandler {
	return &ChargerHandler{
		central: central,
		devices: devices,
		txs:     txs,
		log:     log,
	}
}

// StartRequest is the body of POST /chargers/:id/start.
type StartRequest struct {
	EvseID      int `json:"evseId"`
	ConnectorID int `json:"connectorId"`
}

// StopRequest is the body of POST /chargers/:id/stop.
type StopRequest struct {
	TransactionID string `json:"transactionId"`
}

// List handles GET /api/v1/chargers
func (h *ChargerHandler) List(c *fiber.Ctx) error {
	statuses := h.central.ListChargerStatuses()
	out := make([]domain.ChargerStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChargerID < out[j].ChargerID })

	return c.JSON(fiber.Map{
		"chargers": out,
		"count":    len(out),
	})
}

// Get handles GET /api/v1/chargers/:id
func (h *ChargerHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	live, connected := h.central.ListChargerStatuses()[id]
	device, err := h.devices.GetDevice(c.UserContext(), id)
	if err != nil {
		h.log.Error("Failed to load charger", zap.String("charger_id", id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load charger")
	}
	if device == nil && !connected {
		return fiber.NewError(fiber.StatusNotFound, "charger not found")
	}

	resp := fiber.Map{"device": device}
	if connected {
		resp["live"] = live
	}
	return c.JSON(resp)
}

// Start handles POST /api/v1/chargers/:id/start
func (h *ChargerHandler) Start(c *fiber.Ctx) error {
	id := c.Params("id")

	req := StartRequest{EvseID: 1, ConnectorID: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if !h.connected(id) {
		return fiber.NewError(fiber.StatusNotFound, "charger not connected")
	}

	accepted := h.central.RequestStartTransaction(c.UserContext(), id, req.EvseID, req.ConnectorID)
	return h.commandResponse(c, id, "RequestStartTransaction", accepted)
}

// Stop handles POST /api/v1/chargers/:id/stop
func (h *ChargerHandler) Stop(c *fiber.Ctx) error {
	id := c.Params("id")

	var req StopRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if !h.connected(id) {
		return fiber.NewError(fiber.StatusNotFound, "charger not connected")
	}

	accepted := h.central.RequestStopTransaction(c.UserContext(), id, req.TransactionID)
	return h.commandResponse(c, id, "RequestStopTransaction", accepted)
}

// Transactions handles GET /api/v1/chargers/:id/transactions?limit=n
func (h *ChargerHandler) Transactions(c *fiber.Ctx) error {
	id := c.Params("id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	txs, err := h.txs.ListChargerTransactions(c.UserContext(), id, limit)
	if err != nil {
		h.log.Error("Failed to list transactions", zap.String("charger_id", id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list transactions")
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// ChargerTransaction handles GET /api/v1/chargers/:id/transactions/:txid
func (h *ChargerHandler) ChargerTransaction(c *fiber.Ctx) error {
	return h.transaction(c, c.Params("id"), c.Params("txid"))
}

// Transaction handles GET /api/v1/transactions/:id?charger_id=
func (h *ChargerHandler) Transaction(c *fiber.Ctx) error {
	return h.transaction(c, c.Query("charger_id"), c.Params("id"))
}

func (h *ChargerHandler) transaction(c *fiber.Ctx, chargerID, id string) error {
	tx, err := h.txs.GetTransaction(c.UserContext(), chargerID, id)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound) || (err == nil && tx == nil):
		return fiber.NewError(fiber.StatusNotFound, "transaction not found")
	case errors.Is(err, domain.ErrAmbiguousTransaction):
		return fiber.NewError(fiber.StatusConflict, "transaction id is used by more than one charger, pass charger_id")
	case err != nil:
		h.log.Error("Failed to load transaction",
			zap.String("charger_id", chargerID),
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load transaction")
	}
	return c.JSON(tx)
}

func (h *ChargerHandler) connected(id string) bool {
	_, ok := h.central.ListChargerStatuses()[id]
	return ok
}

func (h *ChargerHandler) commandResponse(c *fiber.Ctx, id, action string, accepted bool) error {
	status := "Rejected"
	code := fiber.StatusConflict
	if accepted {
		status = "Accepted"
		code = fiber.StatusOK
	}

	h.log.Info("Operator command",
		zap.String("charger_id", id),
		zap.String("action", action),
		zap.String("status", status),
	)
	return c.Status(code).JSON(fiber.Map{
		"charger_id": id,
		"action":     action,
		"status":     status,
	})
}
