package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/service"
)

// AdminHandler serves the operator endpoints. All routes behind it are
// guarded by the admin auth middleware.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

type blockRequest struct {
	Participant string `json:"participant"`
}

type sweepRequest struct {
	Recipient string `json:"recipient"`
	// Asset is the ERC-20 to sweep. Empty or the zero address sweeps the
	// native currency.
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// PostBlock adds a participant to the block list.
// POST /api/admin/block
func (h *AdminHandler) PostBlock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// PostUnblock removes a participant from the block list.
// POST /api/admin/unblock
func (h *AdminHandler) PostUnblock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *AdminHandler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	participant, ok := parseAddress(req.Participant)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	var (
		changed bool
		err     error
	)
	if blocked {
		changed, err = h.admin.Block(r.Context(), participant)
	} else {
		changed, err = h.admin.Unblock(r.Context(), participant)
	}
	if err != nil {
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "block change failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update block list")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participant": participant.Hex(),
		"blocked":     blocked,
		"changed":     changed,
	})
}

// PostSweep moves funds out of the treasury.
// POST /api/admin/sweep
func (h *AdminHandler) PostSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipient, ok := parseAddress(req.Recipient)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var err error
	if req.Asset == "" || req.Asset == domain.NativeAsset.Hex() {
		err = h.admin.SweepNative(r.Context(), recipient, amount)
	} else {
		asset, ok := parseAddress(req.Asset)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid asset address")
			return
		}
		err = h.admin.Sweep(r.Context(), recipient, asset, amount)
	}
	if err != nil {
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "sweep failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recipient": recipient.Hex(),
		"amount":    amount.String(),
		"swept":     true,
	})
}

// ListExports returns the archive objects in object storage.
// GET /api/admin/exports
func (h *AdminHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	infos, err := h.admin.ListExports(r.Context())
	if err != nil {
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "list exports failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}

	views := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		views = append(views, map[string]any{
			"path":          info.Path,
			"size":          info.Size,
			"last_modified": info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": views})
}

// GetExport streams one archive object.
// GET /api/admin/exports/{path...}
func (h *AdminHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	body, err := h.admin.OpenExport(r.Context(), pathParam(r, "path"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "open export failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "failed to open export")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		logHandler(h.logger, "admin").WarnContext(r.Context(), "export stream interrupted",
			slog.String("error", err.Error()))
	}
}

// DeleteExport removes a verified archive object.
// DELETE /api/admin/exports/{path...}
func (h *AdminHandler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r, "path")
	if err := h.admin.DeleteExport(r.Context(), path); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "delete export failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "failed to delete export")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"deleted": true,
	})
}

// GetAudit returns audit log entries, newest first.
// GET /api/admin/audit
func (h *AdminHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		logHandler(h.logger, "admin").ErrorContext(r.Context(), "audit query failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
