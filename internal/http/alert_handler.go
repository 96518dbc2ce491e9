package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/repository"

	"go.uber.org/zap"
)

// AlertLister reads the alert log.
type AlertLister interface {
	ListAlertEvents(ctx context.Context, filters repository.AlertEventFilters) ([]*models.AlertEvent, error)
}

// AlertHandler serves recorded alert events. lister may be nil when the
// alert log is disabled.
type AlertHandler struct {
	lister AlertLister
	logger *zap.Logger
}

func NewAlertHandler(lister AlertLister, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{lister: lister, logger: logger}
}

// ListAlerts: ?patient_id=a,b&limit=50
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("alert log is disabled"))
		return
	}

	filters := repository.AlertEventFilters{
		Limit: parseInt(r.URL.Query().Get("limit"), repository.DefaultListLimit),
	}
	if ids := strings.TrimSpace(r.URL.Query().Get("patient_id")); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filters.PatientIDs = append(filters.PatientIDs, id)
			}
		}
	}

	events, err := h.lister.ListAlertEvents(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list alert events", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Fail("failed to list alert events"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(events))
}
