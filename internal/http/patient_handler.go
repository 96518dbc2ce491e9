package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CJButlers/RXhale/internal/export"
	"github.com/CJButlers/RXhale/internal/ingestion"
	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"
	"github.com/CJButlers/RXhale/internal/roster"
	"github.com/CJButlers/RXhale/internal/store"

	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PatientHandler serves patient records and their vitals.
type PatientHandler struct {
	store   store.DocumentStore
	ingest  *ingestion.Channel
	engine  *projection.Engine
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewPatientHandler(st store.DocumentStore, ingest *ingestion.Channel, engine *projection.Engine, timeout time.Duration, logger *zap.Logger) *PatientHandler {
	if timeout <= 0 {
		timeout = ingestion.DefaultTimeout
	}
	return &PatientHandler{
		store:   st,
		ingest:  ingest,
		engine:  engine,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// PatientDetail is the detail page payload.
type PatientDetail struct {
	Patient *models.PatientRecord    `json:"patient"`
	Age     *int                     `json:"age,omitempty"`
	View    projection.ProjectedView `json:"view"`
}

// storeError maps store failures outside ingestion and the engine.
func storeError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("patient %s: %w", id, models.ErrUnknownPatient)
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func (h *PatientHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var rec models.PatientRecord
	if err := readBodyJSON(r, maxBodyBytes, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body: "+err.Error()))
		return
	}
	rec.Normalize()
	// registration starts with empty histories
	rec.Vitals = []models.VitalsReading{}
	rec.Symptoms = []models.SymptomLog{}
	if err := rec.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id, err := h.store.CreatePatient(ctx, &rec)
	if err != nil {
		h.logger.Error("Failed to create patient", zap.Error(err))
		writeError(w, storeError("", err))
		return
	}

	h.logger.Info("Patient registered", zap.String("patient_id", id))
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

func (h *PatientHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, view, err := h.engine.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := PatientDetail{Patient: rec, View: view}
	if age, ok := rec.Age(h.now()); ok {
		detail.Age = &age
	}
	writeJSON(w, http.StatusOK, Ok(detail))
}

// GetRoster returns the filtered roster: ?tab=all|critical&q=search
func (h *PatientHandler) GetRoster(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Roster(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	q := queryFromRequest(r)
	writeJSON(w, http.StatusOK, Ok(roster.Filter(entries, q)))
}

func queryFromRequest(r *http.Request) roster.Query {
	return roster.Query{
		Tab:    roster.ParseTab(r.URL.Query().Get("tab")),
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
	}
}

func (h *PatientHandler) SubmitVitals(w http.ResponseWriter, r *http.Request) {
	var payload models.ReadingPayload
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body: "+err.Error()))
		return
	}

	receipt, err := h.ingest.SubmitPayload(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(receipt))
}

// ImportResult reports a bulk import.
type ImportResult struct {
	Accepted int                 `json:"accepted"`
	Receipts []ingestion.Receipt `json:"receipts"`
}

// ImportVitals accepts an xlsx body in the export layout. Every row is
// validated before anything is submitted, so a bad row rejects the whole
// workbook. Valid rows are then submitted in order; if a submission fails
// the import stops there and the rows before it stay accepted.
func (h *PatientHandler) ImportVitals(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 10*maxBodyBytes))
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("workbook body is required"))
		return
	}
	readings, err := export.ParseVitalsWorkbook(data)
	if err != nil {
		writeJSON(w, statusFor(fmt.Errorf("%w: %v", models.ErrInvalidReading, err)), Fail(err.Error()))
		return
	}

	id := r.PathValue("id")
	result := ImportResult{Receipts: []ingestion.Receipt{}}
	for i, reading := range readings {
		receipt, err := h.ingest.Submit(r.Context(), id, reading)
		if err != nil {
			h.logger.Warn("Vitals import stopped",
				zap.String("patient_id", id),
				zap.Int("accepted", result.Accepted),
				zap.Error(err),
			)
			writeJSON(w, statusFor(err), Result[ImportResult]{
				Code:    ResultError,
				Type:    "error",
				Message: fmt.Sprintf("reading %d: %v", i+1, err),
				Result:  result,
			})
			return
		}
		result.Accepted++
		result.Receipts = append(result.Receipts, receipt)
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

func (h *PatientHandler) ExportVitals(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.store.GetPatient(ctx, id)
	if err != nil {
		writeError(w, storeError(id, err))
		return
	}

	data, err := export.GenerateVitalsWorkbook(rec, h.now())
	if err != nil {
		h.logger.Error("Failed to generate vitals workbook", zap.String("patient_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate workbook"))
		return
	}

	filename := fmt.Sprintf("vitals_%s_%s.xlsx", id, h.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *PatientHandler) AppendSymptom(w http.ResponseWriter, r *http.Request) {
	var entry models.SymptomLog
	if err := readBodyJSON(r, maxBodyBytes, &entry); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body: "+err.Error()))
		return
	}
	entry.Description = strings.TrimSpace(entry.Description)
	if entry.Description == "" {
		writeJSON(w, http.StatusBadRequest, Fail("description is required"))
		return
	}
	now := h.now()
	if entry.Date == "" {
		entry.Date = now.Format(models.DateLayout)
	}
	if entry.Time == "" {
		entry.Time = now.Format("15:04")
	}

	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	n, err := h.store.AppendSymptom(ctx, id, entry)
	if err != nil {
		writeError(w, storeError(id, err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"sequence": n}))
}

func (h *PatientHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes *string `json:"notes"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil || body.Notes == nil {
		writeJSON(w, http.StatusBadRequest, Fail("notes is required"))
		return
	}

	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.store.UpdateNotes(ctx, id, *body.Notes); err != nil {
		writeError(w, storeError(id, err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}
