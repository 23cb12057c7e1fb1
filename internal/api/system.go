package api

import (
	"net/http"

	"rentloop-be/internal/logger"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/utils"

	"go.uber.org/zap"
)

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, metrics.Collect(h.LedgerStats, h.PaymentStats))
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.PingContext(r.Context()); err != nil {
			logger.FromCtx(r.Context()).Error("health check failed", zap.Error(err))
			utils.WriteError(w, http.StatusServiceUnavailable, "unhealthy", "storage unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
