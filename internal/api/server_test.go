package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"mixerline/internal/auth"
	"mixerline/internal/clock"
	"mixerline/internal/engine"
	"mixerline/internal/events"
	"mixerline/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newServer(t *testing.T, opts Options) (*Server, *clock.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := testutil.Clock()
	e := engine.New(testutil.OpenDB(t, 3), engine.Options{Clock: clk})
	return NewServer(e, opts), clk
}

func call(t *testing.T, s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, auth.Principal{Subject: "jdoe", Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, Options{AuthDisabled: true})

	w := call(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "subscribers")
}

func TestAuthentication(t *testing.T) {
	s, _ := newServer(t, Options{JWTSecret: secret})

	w := call(t, s, http.MethodGet, "/api/v1/mixers", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, s, http.MethodGet, "/api/v1/mixers", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, s, http.MethodGet, "/api/v1/mixers", nil, token(t, auth.RoleViewer))
	assert.Equal(t, http.StatusOK, w.Code)
	var mixers []map[string]any
	decode(t, w, &mixers)
	assert.Len(t, mixers, 3)

	recipe := testutil.Recipe("Viewer attempt", testutil.Step(1, "Mix", 60))
	w = call(t, s, http.MethodPost, "/api/v1/recipes", recipe, token(t, auth.RoleViewer))
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "FORBIDDEN", body["kind"])

	w = call(t, s, http.MethodPost, "/api/v1/recipes", recipe, token(t, auth.RoleSupervisor))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSnakeCaseBodies(t *testing.T) {
	s, _ := newServer(t, Options{AuthDisabled: true})

	body := `{"product":"Resin","category":"raw","quantity":200,"capacity":1000,"min_threshold":100,"unit":"kg"}`
	w := call(t, s, http.MethodPost, "/api/v1/inventory", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var item map[string]any
	decode(t, w, &item)
	assert.Equal(t, 100.0, item["minThreshold"])
	assert.Equal(t, "Low", item["status"])
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	s, clk := newServer(t, Options{AuthDisabled: true})

	for _, body := range []string{
		`{"product":"Resin","quantity":1000,"capacity":1000,"minThreshold":100,"unit":"kg"}`,
		`{"product":"Talc","quantity":500,"capacity":1000,"minThreshold":50,"unit":"kg"}`,
	} {
		w := call(t, s, http.MethodPost, "/api/v1/inventory", body, "")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := call(t, s, http.MethodPost, "/api/v1/recipes", testutil.EightStepRecipe("PVC compound"), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var recipe struct {
		ID uint `json:"id"`
	}
	decode(t, w, &recipe)

	w = call(t, s, http.MethodPost, "/api/v1/mixers/1/batch/advance", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(t, s, http.MethodPost, "/api/v1/mixers/1/batch", map[string]any{"recipe_id": recipe.ID, "number": "B-HTTP-1"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var batch struct {
		ID         uint   `json:"id"`
		Number     string `json:"number"`
		Status     string `json:"status"`
		TotalSteps int    `json:"totalSteps"`
	}
	decode(t, w, &batch)
	assert.Equal(t, "B-HTTP-1", batch.Number)
	assert.Equal(t, "Running", batch.Status)
	assert.Equal(t, 8, batch.TotalSteps)

	w = call(t, s, http.MethodPost, "/api/v1/mixers/1/batch", map[string]any{"recipeId": recipe.ID}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(t, s, http.MethodGet, "/api/v1/mixers/1/batch", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var advance struct {
		Closed struct {
			StepNumber int `json:"stepNumber"`
		} `json:"closed"`
		Finished bool `json:"finished"`
	}
	for i := 1; i <= 8; i++ {
		clk.Advance(10 * time.Minute)
		w = call(t, s, http.MethodPost, "/api/v1/mixers/1/batch/advance", nil, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &advance)
		assert.Equal(t, i, advance.Closed.StepNumber)
	}
	assert.True(t, advance.Finished)

	w = call(t, s, http.MethodGet, "/api/v1/batches/"+itoa(batch.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var final map[string]any
	decode(t, w, &final)
	assert.Equal(t, "Completed", final["status"])
	assert.Equal(t, "Success", final["verdict"])
	assert.Equal(t, 150.0, final["dosedTotal"])

	w = call(t, s, http.MethodGet, "/api/v1/batches/"+itoa(batch.ID)+"/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report map[string]any
	decode(t, w, &report)
	assert.Equal(t, 100.0, report["overallProgress"])

	w = call(t, s, http.MethodGet, "/api/v1/batches/"+itoa(batch.ID)+"/transactions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var txs []map[string]any
	decode(t, w, &txs)
	assert.Len(t, txs, 2)

	w = call(t, s, http.MethodGet, "/api/v1/inventory/Resin", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resin map[string]any
	decode(t, w, &resin)
	assert.Equal(t, 900.0, resin["quantity"])

	w = call(t, s, http.MethodDelete, "/api/v1/batches/"+itoa(batch.ID), nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = call(t, s, http.MethodGet, "/api/v1/batches/"+itoa(batch.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s, _ := newServer(t, Options{AuthDisabled: true})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown mixer", http.MethodGet, "/api/v1/mixers/42", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad id", http.MethodGet, "/api/v1/mixers/abc", nil, http.StatusBadRequest, "VALIDATION"},
		{"bad query", http.MethodGet, "/api/v1/batches?mixer=x", nil, http.StatusBadRequest, "VALIDATION"},
		{"malformed body", http.MethodPost, "/api/v1/recipes", "{", http.StatusBadRequest, "VALIDATION"},
		{"missing quantity", http.MethodPost, "/api/v1/inventory/Resin/replenish", `{}`, http.StatusBadRequest, "VALIDATION"},
		{"unknown product", http.MethodGet, "/api/v1/inventory/Unobtainium", nil, http.StatusNotFound, "NOT_FOUND"},
		{"missing recipe", http.MethodPost, "/api/v1/mixers/1/batch", `{"recipeId":99}`, http.StatusNotFound, "NOT_FOUND"},
		{"abort idle mixer", http.MethodPost, "/api/v1/mixers/2/batch/abort", `{"reason":"test"}`, http.StatusConflict, "CONFLICT"},
		{"missing alarm", http.MethodPost, "/api/v1/alarms/7/acknowledge", nil, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, s, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]any
			decode(t, w, &body)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAlarmsOverHTTP(t *testing.T) {
	s, _ := newServer(t, Options{AuthDisabled: true})

	for _, mixer := range []uint{1, 1, 2} {
		w := call(t, s, http.MethodPost, "/api/v1/alarms",
			map[string]any{"mixer_id": mixer, "code": "E_STOP", "description": "emergency stop", "severity": "Critical"}, "")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := call(t, s, http.MethodGet, "/api/v1/mixers/1", nil, "")
	var mixer map[string]any
	decode(t, w, &mixer)
	assert.Equal(t, "Alarm", mixer["status"])

	w = call(t, s, http.MethodPost, "/api/v1/alarms/acknowledge", `{"mixerId":1}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Acknowledged []uint `json:"acknowledged"`
		Failed       []any  `json:"failed"`
	}
	decode(t, w, &report)
	assert.ElementsMatch(t, []uint{1, 2}, report.Acknowledged)
	assert.Empty(t, report.Failed)

	w = call(t, s, http.MethodGet, "/api/v1/mixers/1", nil, "")
	decode(t, w, &mixer)
	assert.Equal(t, "Stopped", mixer["status"])

	w = call(t, s, http.MethodGet, "/api/v1/alarms?status=Active", nil, "")
	var active []map[string]any
	decode(t, w, &active)
	require.Len(t, active, 1)
	assert.Equal(t, 2.0, active[0]["mixerId"])

	w = call(t, s, http.MethodPost, "/api/v1/alarms/1/acknowledge", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEventFeed(t *testing.T) {
	s, _ := newServer(t, Options{AuthDisabled: true})
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?mixer=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.engine.Hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	s.engine.Hub.Publish(events.Event{Type: events.MixerUpdated, MixerID: 2})
	s.engine.Hub.Publish(events.Event{Type: events.AlarmRaised, MixerID: 1})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.AlarmRaised, got.Type)
	assert.Equal(t, uint(1), got.MixerID)
}

func TestCamelKey(t *testing.T) {
	assert.Equal(t, "minThreshold", camelKey("min_threshold"))
	assert.Equal(t, "recipeId", camelKey("recipe_id"))
	assert.Equal(t, "armMode", camelKey("armMode"))
	assert.Equal(t, "vacuumTargetValue", camelKey("vacuum_target__value"))
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
