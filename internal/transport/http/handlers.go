package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"allais-survey-service/internal/app"
	"allais-survey-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxSubmissionBytes = 1 << 20

// API holds the REST handlers.
type API struct {
	submissions *app.SubmissionService
	dashboard   *app.DashboardService
	opts        RouterOptions
}

type errorBody struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type submitResponse struct {
	Success bool `json:"success"`
	domain.SubmissionResult
}

type duplicateConflict struct {
	Error          string `json:"error"`
	CompletionCode string `json:"completionCode"`
}

type experimentConfig struct {
	ExperimentID           string                 `json:"experimentId"`
	Title                  string                 `json:"title"`
	Description            string                 `json:"description"`
	Version                string                 `json:"version"`
	QualityControls        domain.QualityControls `json:"qualityControls"`
	TimeLimit              int64                  `json:"timeLimit"`
	AttentionCheckRequired bool                   `json:"attentionCheckRequired"`
}

type completionCodeRequest struct {
	WorkerID     string `json:"workerId"`
	AssignmentID string `json:"assignmentId"`
}

type completionCodeResponse struct {
	CompletionCode string    `json:"completionCode"`
	SubmissionDate time.Time `json:"submissionDate"`
	Failed         bool      `json:"failed"`
	FailureReasons []string  `json:"failureReasons"`
}

type recentResponse struct {
	WorkerID             string    `json:"workerId"`
	AssignmentID         string    `json:"assignmentId"`
	FontCondition        string    `json:"fontCondition"`
	AttributionCondition string    `json:"attributionCondition"`
	Lottery1Choice       string    `json:"lottery1Choice"`
	Lottery2Choice       string    `json:"lottery2Choice"`
	AllaisPattern        string    `json:"allaisPattern"`
	AttentionCheckPassed bool      `json:"attentionCheckPassed"`
	Failed               bool      `json:"failed"`
	FailureReasons       []string  `json:"failureReasons"`
	CompletionTimeMs     int64     `json:"completionTimeMs"`
	CreatedAt            time.Time `json:"createdAt"`
}

type statusRequest struct {
	Status domain.ExperimentStatus `json:"status"`
}

type statusResponse struct {
	Success      bool                    `json:"success"`
	ExperimentID string                  `json:"experimentId"`
	NewStatus    domain.ExperimentStatus `json:"newStatus"`
	Experiment   domain.Experiment       `json:"experiment"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err := dec.Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: map[string]string{"body": err.Error()}})
		return
	}
	sub.IPAddress = clientIP(r)
	if sub.BrowserInfo.UserAgent == "" {
		sub.BrowserInfo.UserAgent = r.UserAgent()
	}

	res, err := a.submissions.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Duplicate && a.opts.DuplicateStatusConflict {
		writeJSON(w, http.StatusConflict, duplicateConflict{Error: "Duplicate submission detected", CompletionCode: res.CompletionCode})
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Success: true, SubmissionResult: res})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	exp, err := a.submissions.ExperimentConfig(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		if errors.Is(err, domain.ErrExperimentNotFound) || errors.Is(err, domain.ErrExperimentInactive) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Experiment not found or not active"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, experimentConfig{
		ExperimentID:           exp.ID,
		Title:                  exp.Title,
		Description:            exp.Description,
		Version:                exp.Version,
		QualityControls:        exp.QualityControls,
		TimeLimit:              exp.QualityControls.TimeLimitMs,
		AttentionCheckRequired: exp.QualityControls.AttentionCheckRequired,
	})
}

func (a *API) handleCheckParticipation(w http.ResponseWriter, r *http.Request) {
	p, err := a.submissions.CheckParticipation(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCompletionCode(w http.ResponseWriter, r *http.Request) {
	var req completionCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: map[string]string{"body": err.Error()}})
		return
	}
	stored, err := a.submissions.CompletionCode(r.Context(), req.WorkerID, req.AssignmentID)
	if err != nil {
		if errors.Is(err, domain.ErrResponseNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "No submission found for this worker and assignment"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completionCodeResponse{
		CompletionCode: stored.CompletionCode,
		SubmissionDate: stored.CreatedAt,
		Failed:         stored.Failed(),
		FailureReasons: stored.FailureReasons.Strings(),
	})
}

func (a *API) handleExperiments(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.dashboard.Experiments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []domain.ExperimentSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := a.dashboard.Stats(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleRecentResponses(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rs, err := a.dashboard.RecentResponses(r.Context(), chi.URLParam(r, "experimentID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]recentResponse, 0, len(rs))
	for _, resp := range rs {
		out = append(out, recentResponse{
			WorkerID:             resp.WorkerID,
			AssignmentID:         resp.AssignmentID,
			FontCondition:        string(resp.FontCondition),
			AttributionCondition: string(resp.AttributionCondition),
			Lottery1Choice:       resp.Lottery1Choice,
			Lottery2Choice:       resp.Lottery2Choice,
			AllaisPattern:        string(resp.AllaisPattern),
			AttentionCheckPassed: resp.AttentionCheckPassed,
			Failed:               resp.Failed(),
			FailureReasons:       resp.FailureReasons.Strings(),
			CompletionTimeMs:     resp.CompletionTimeMs,
			CreatedAt:            resp.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")
	export, err := a.dashboard.Export(r.Context(), experimentID)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, export)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+experimentID+"_data.csv")
		w.WriteHeader(http.StatusOK)
		if err := export.WriteCSV(w); err != nil {
			zap.L().Error("write csv export", zap.String("experiment_id", experimentID), zap.Error(err))
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported export format " + strconv.Quote(format)})
	}
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid status"})
		return
	}
	exp, err := a.dashboard.UpdateStatus(r.Context(), experimentID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, ExperimentID: experimentID, NewStatus: exp.Status, Experiment: exp})
}

func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: verr.Fields})
	case eris.Is(err, domain.ErrExperimentNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Experiment not found"})
	case eris.Is(err, domain.ErrResponseNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Response not found"})
	case eris.Is(err, domain.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid status"})
	case eris.Is(err, domain.ErrLockBusy):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Submission in progress, please retry"})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
