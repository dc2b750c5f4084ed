package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/skilltrack/internal/display"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/metrics"
	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	testSigningKey   = "secret-key"
	testIssuer       = "skilltrack"
	entityAlphaValue = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	entityBetaValue  = "0f8fad5b-d9cb-469f-a165-70867728950e"
)

type memoryStore struct{}

func (memoryStore) ApplyDeltas(context.Context, []skills.Delta) error { return nil }

func (memoryStore) SaveTrackedCategory(context.Context, skills.EntityID, skills.Category) error {
	return nil
}

func (memoryStore) LoadProfile(_ context.Context, _ skills.EntityID, defaultCategory skills.Category) (skills.Profile, error) {
	return skills.NewProfile(defaultCategory), nil
}

type apiFixture struct {
	server  *httptest.Server
	service *skills.Service
	board   *display.Board
}

func newAPIFixture(test *testing.T) apiFixture {
	test.Helper()
	board := display.NewBoard()
	registry := prometheus.NewRegistry()
	collector, err := metrics.NewFlushCollector(registry)
	if err != nil {
		test.Fatalf("metrics: %v", err)
	}
	service, err := skills.NewService(memoryStore{}, skills.DefaultLevelTable(), skills.WithDisplay(board), skills.WithFlushObserver(collector))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	router := NewRouter(Config{
		AllowedOrigins: []string{"http://localhost:8000"},
		SigningKey:     testSigningKey,
		Issuer:         testIssuer,
	}, Dependencies{Skills: service, Board: board, Gatherer: registry})
	server := httptest.NewServer(router)
	test.Cleanup(func() {
		server.Close()
		_ = service.Stop(context.Background())
	})
	return apiFixture{server: server, service: service, board: board}
}

func buildToken(test *testing.T, subject string, issuer string) string {
	test.Helper()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return signed
}

func execRequest(test *testing.T, fixture apiFixture, method string, path string, token string, body any) (int, map[string]any) {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, fixture.server.URL+path, reader)
	if err != nil {
		test.Fatalf("request build failed: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := fixture.server.Client().Do(request)
	if err != nil {
		test.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(response.Body).Decode(&payload)
	return response.StatusCode, payload
}

func mustBeginSession(test *testing.T, service *skills.Service, raw string) skills.EntityID {
	test.Helper()
	entityID, err := skills.NewEntityID(raw)
	if err != nil {
		test.Fatalf("entity id: %v", err)
	}
	if _, err := service.LoadSession(context.Background(), entityID); err != nil {
		test.Fatalf("load session: %v", err)
	}
	return entityID
}

func TestTrackSwitchesDisplayedSkill(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	entityID := mustBeginSession(test, fixture.service, entityAlphaValue)
	if err := fixture.service.Increment(context.Background(), entityID, skills.Fishing, 200); err != nil {
		test.Fatalf("increment: %v", err)
	}
	token := buildToken(test, entityAlphaValue, testIssuer)

	status, payload := execRequest(test, fixture, http.MethodPost, "/api/track", token, map[string]string{"skill": "FiShInG"})
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d %v", status, payload)
	}
	if payload["skill"] != "fishing" || payload["title"] != "Fishing - Level 3 / 99 - Experience 200 / 276" {
		test.Fatalf("unexpected tracker payload %v", payload)
	}
	created, detached := fixture.board.Counts()
	if created != 2 || detached != 1 {
		test.Fatalf("expected one switch, got created=%d detached=%d", created, detached)
	}

	status, payload = execRequest(test, fixture, http.MethodGet, "/api/tracker", token, nil)
	if status != http.StatusOK || payload["skill"] != "fishing" {
		test.Fatalf("unexpected tracker %d %v", status, payload)
	}
}

func TestTrackRejectsInvalidSkill(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	mustBeginSession(test, fixture.service, entityAlphaValue)
	token := buildToken(test, entityAlphaValue, testIssuer)
	status, payload := execRequest(test, fixture, http.MethodPost, "/api/track", token, map[string]string{"skill": "smithing"})
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", status)
	}
	errorPayload, _ := payload["error"].(map[string]any)
	if errorPayload["message"] != invalidSkillMessage {
		test.Fatalf("unexpected error payload %v", payload)
	}
}

func TestTrackWithoutSessionConflicts(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	token := buildToken(test, entityBetaValue, testIssuer)
	status, _ := execRequest(test, fixture, http.MethodPost, "/api/track", token, map[string]string{"skill": "mining"})
	if status != http.StatusConflict {
		test.Fatalf("expected 409, got %d", status)
	}
}

func TestSkillsAndCompletion(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	mustBeginSession(test, fixture.service, entityAlphaValue)
	token := buildToken(test, entityAlphaValue, testIssuer)

	status, payload := execRequest(test, fixture, http.MethodGet, "/api/skills", token, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d", status)
	}
	entries, _ := payload["skills"].([]any)
	if len(entries) != len(skills.Categories()) {
		test.Fatalf("expected %d skills, got %v", len(skills.Categories()), payload)
	}

	status, payload = execRequest(test, fixture, http.MethodGet, "/api/skills/complete?prefix=c", token, nil)
	completions, _ := payload["completions"].([]any)
	if status != http.StatusOK || len(completions) != 2 || completions[0] != "cooking" || completions[1] != "crafting" {
		test.Fatalf("unexpected completions %d %v", status, payload)
	}
}

func TestBearerAuthRejectsBadTokens(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	testCases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "wrong issuer", token: buildToken(test, entityAlphaValue, "someone-else")},
		{name: "non uuid subject", token: buildToken(test, "player-1", testIssuer)},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, testCase := range testCases {
		status, _ := execRequest(test, fixture, http.MethodGet, "/api/skills", testCase.token, nil)
		if status != http.StatusUnauthorized {
			test.Fatalf("%s: expected 401, got %d", testCase.name, status)
		}
	}
}

func TestHealthAndMetrics(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	if _, err := fixture.service.Flush(context.Background()); err != nil {
		test.Fatalf("flush: %v", err)
	}
	status, payload := execRequest(test, fixture, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || payload["status"] != "ok" {
		test.Fatalf("unexpected health %d %v", status, payload)
	}
	response, err := fixture.server.Client().Get(fixture.server.URL + "/metrics")
	if err != nil {
		test.Fatalf("metrics request: %v", err)
	}
	defer response.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(response.Body); err != nil {
		test.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(body.String(), `skilltrack_flush_total{result="empty"} 1`) {
		test.Fatalf("expected flush counter in metrics output")
	}
}
