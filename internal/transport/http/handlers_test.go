package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"allais-survey-service/internal/analysis"
	"allais-survey-service/internal/app"
	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/infra/memory"
	"allais-survey-service/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts RouterOptions) *httptest.Server {
	t.Helper()
	responses := memory.NewResponseStore()
	experiments := memory.NewExperimentRepository(memory.NewStaticExperimentLoader(sampleExperiment()), time.Minute)
	dashboard := app.NewDashboardService(responses, experiments, memory.NewFeedStore(), analysis.DefaultOptions())
	submissions := app.NewSubmissionService(responses, experiments, memory.NewParticipantLocker(), quality.NewValidator(false),
		app.WithPublisher(dashboard))

	server := httptest.NewServer(NewRouter(submissions, dashboard, opts))
	t.Cleanup(server.Close)
	return server
}

func sampleExperiment() domain.Experiment {
	return domain.Experiment{
		ID:               app.DefaultExperimentID,
		Title:            "Allais fluency",
		Version:          "1.0.0",
		Status:           domain.StatusActive,
		TargetSampleSize: 100,
		QualityControls: domain.QualityControls{
			TimeLimitMs:            3_600_000,
			MinimumCompletionMs:    300_000,
			AttentionCheckRequired: true,
			AttentionCheckAnswer:   42,
		},
	}
}

func submissionBody(worker, assignment, font, l1, l2 string, math any) []byte {
	body := map[string]any{
		"workerId":      worker,
		"assignmentId":  assignment,
		"hitId":         "HIT" + assignment,
		"fontCondition": font,
		"responses": map[string]any{
			"lottery1": l1,
			"lottery2": l2,
			"math":     math,
			"age":      "25-34",
		},
		"timing": map[string]any{
			"startTime":  "2024-11-22T10:00:00Z",
			"endTime":    "2024-11-22T10:10:00Z",
			"durationMs": 600000,
		},
		"browserInfo": map[string]any{"language": "en-US"},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func post(t *testing.T, url string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestSubmitEndpoint(t *testing.T) {
	server := newTestServer(t, RouterOptions{})

	resp, out := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "easy", "A", "D", "42"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["failed"])
	assert.Equal(t, []any{}, out["failureReasons"])
	assert.Regexp(t, `^STUDY[A-Z0-9]{4}[0-9]{3}$`, out["completionCode"])

	resp, dup := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "easy", "A", "D", 42))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, dup["duplicate"])
	assert.Equal(t, out["completionCode"], dup["completionCode"])
}

func TestSubmitEndpointDuplicateConflictMode(t *testing.T) {
	server := newTestServer(t, RouterOptions{DuplicateStatusConflict: true})

	_, first := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "hard", "B", "D", 42))
	resp, dup := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "hard", "B", "D", 42))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Duplicate submission detected", dup["error"])
	assert.Equal(t, first["completionCode"], dup["completionCode"])
}

func TestSubmitEndpointValidation(t *testing.T) {
	server := newTestServer(t, RouterOptions{})

	resp, out := post(t, server.URL+"/api/experiment/submit", submissionBody("", "A1", "bold", "A", "D", 42))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", out["error"])
	details, ok := out["details"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "workerId")
	assert.Contains(t, details, "fontCondition")

	resp, _ = post(t, server.URL+"/api/experiment/submit", []byte(`{"workerId":`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfigEndpoint(t *testing.T) {
	server := newTestServer(t, RouterOptions{})

	var cfg map[string]any
	resp := getJSON(t, server.URL+"/api/experiment/config/"+app.DefaultExperimentID, &cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, app.DefaultExperimentID, cfg["experimentId"])
	assert.Equal(t, float64(3_600_000), cfg["timeLimit"])
	assert.Equal(t, true, cfg["attentionCheckRequired"])

	resp = getJSON(t, server.URL+"/api/experiment/config", &cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, server.URL+"/api/experiment/config/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParticipationAndCompletionCodeEndpoints(t *testing.T) {
	server := newTestServer(t, RouterOptions{})

	var p map[string]any
	getJSON(t, server.URL+"/api/experiment/check-participation/W1", &p)
	assert.Equal(t, false, p["hasParticipated"])

	_, res := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "easy", "A", "C", "41"))
	getJSON(t, server.URL+"/api/experiment/check-participation/W1", &p)
	assert.Equal(t, true, p["hasParticipated"])
	assert.Equal(t, res["completionCode"], p["completionCode"])

	resp, code := post(t, server.URL+"/api/experiment/completion-code", []byte(`{"workerId":"W1","assignmentId":"A1"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, res["completionCode"], code["completionCode"])
	assert.Equal(t, true, code["failed"])
	assert.Equal(t, []any{"attention_check"}, code["failureReasons"])

	resp, _ = post(t, server.URL+"/api/experiment/completion-code", []byte(`{"workerId":"W1","assignmentId":"A2"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = post(t, server.URL+"/api/experiment/completion-code", []byte(`{"workerId":"W1"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardEndpoints(t *testing.T) {
	server := newTestServer(t, RouterOptions{})
	for i := 0; i < 4; i++ {
		font := "easy"
		if i%2 == 1 {
			font = "hard"
		}
		post(t, server.URL+"/api/experiment/submit", submissionBody(fmt.Sprintf("W%d", i), fmt.Sprintf("A%d", i), font, "A", "D", 42))
	}

	var stats map[string]any
	resp := getJSON(t, server.URL+"/api/dashboard/experiment/"+app.DefaultExperimentID+"/stats", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	quality := stats["qualityMetrics"].(map[string]any)
	assert.Equal(t, float64(4), quality["validResponses"])
	font := stats["effectSizes"].(map[string]any)["fontEffect"].(map[string]any)
	assert.Equal(t, "100.0", font["easyAllaisRate"])

	resp = getJSON(t, server.URL+"/api/dashboard/experiment/unknown/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var summaries []map[string]any
	getJSON(t, server.URL+"/api/dashboard/experiments", &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, float64(4), summaries[0]["completionPercentage"])

	var recent []map[string]any
	getJSON(t, server.URL+"/api/dashboard/experiment/"+app.DefaultExperimentID+"/recent-responses?limit=3", &recent)
	assert.Len(t, recent, 3)

	var export map[string]any
	getJSON(t, server.URL+"/api/dashboard/experiment/"+app.DefaultExperimentID+"/export", &export)
	assert.Equal(t, float64(4), export["totalRecords"])

	csvResp, err := http.Get(server.URL + "/api/dashboard/experiment/" + app.DefaultExperimentID + "/export?format=csv")
	require.NoError(t, err)
	defer csvResp.Body.Close()
	assert.Equal(t, "text/csv", csvResp.Header.Get("Content-Type"))
	rows, err := csv.NewReader(csvResp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	resp = getJSON(t, server.URL+"/api/dashboard/experiment/"+app.DefaultExperimentID+"/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	server := newTestServer(t, RouterOptions{})
	url := server.URL + "/api/dashboard/experiment/" + app.DefaultExperimentID + "/status"

	patch := func(body string) *http.Response {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPatch, url, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusBadRequest, patch(`{"status":"running"}`).StatusCode)
	assert.Equal(t, http.StatusOK, patch(`{"status":"paused"}`).StatusCode)

	resp := getJSON(t, server.URL+"/api/experiment/config/"+app.DefaultExperimentID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	server := newTestServer(t, RouterOptions{})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "easy", "A", "D", 42))
	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "survey_submissions_total")
}

func TestSubmitRateLimit(t *testing.T) {
	server := newTestServer(t, RouterOptions{SubmitRate: 0.001, SubmitBurst: 1})

	resp, _ := post(t, server.URL+"/api/experiment/submit", submissionBody("W1", "A1", "easy", "A", "D", 42))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := post(t, server.URL+"/api/experiment/submit", submissionBody("W2", "A2", "easy", "A", "D", 42))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.NotEmpty(t, out["error"])
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, RouterOptions{AllowedOrigins: []string{"https://survey.example.org"}})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/experiment/submit", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://survey.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://survey.example.org", resp.Header.Get("Access-Control-Allow-Origin"))
}
