package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/pipeline"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
	"github.com/mr1hm/go-relief-fitness/internal/repository"
)

// mockStore implements Store for testing
type mockStore struct {
	pairs      []models.ScoredPair
	models     []repository.ModelInfo
	runs       []repository.Run
	lastFilter repository.Filter
	lastLimit  int
	err        error
}

func (m *mockStore) ListPairs(ctx context.Context, opts repository.Filter) ([]models.ScoredPair, error) {
	m.lastFilter = opts
	if m.err != nil {
		return nil, m.err
	}
	results := m.pairs
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *mockStore) ListModels(ctx context.Context) ([]repository.ModelInfo, error) {
	return m.models, m.err
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]repository.Run, error) {
	m.lastLimit = limit
	return m.runs, m.err
}

type mockRunner struct {
	result *pipeline.Result
	err    error
	calls  int
}

func (m *mockRunner) Run(ctx context.Context) (*pipeline.Result, error) {
	m.calls++
	return m.result, m.err
}

func testModel() *predictor.Model {
	return &predictor.Model{
		ID:             "m1",
		FormatVersion:  predictor.FormatVersion,
		CategorySchema: models.CategorySchemaVersion,
		CreatedAt:      time.Date(2025, 4, 25, 6, 11, 0, 0, time.UTC),
		TrainSize:      16,
		TestSize:       4,
		Forest: predictor.Forest{Trees: []predictor.Tree{{Nodes: []predictor.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
			{Feature: -1, Value: 30},
			{Feature: -1, Value: 85},
		}}}},
	}
}

// testService has Habitat (shelter only) and two districts: Gorkha needs
// shelter and has a location, Kathmandu needs health and has none.
func testService(withModel bool) *fitness.Service {
	var gorkha, kathmandu models.Vector
	gorkha[models.CategoryShelter] = 100
	kathmandu[models.CategoryHealth] = 100

	var shelter, health models.Vector
	shelter[models.CategoryShelter] = 1
	health[models.CategoryHealth] = 1

	svc := fitness.NewService()
	svc.SetData(
		&models.NeedMatrix{
			Categories: models.AllCategories(),
			Rows: []models.DistrictNeed{
				{District: "Gorkha", Needs: gorkha, Location: &models.Coordinates{Latitude: 28.0, Longitude: 84.6}},
				{District: "Kathmandu", Needs: kathmandu},
			},
		},
		&models.CapabilityTable{
			Categories: models.AllCategories(),
			Rows: []models.NGOCapability{
				{Name: "Habitat", Capabilities: shelter},
				{Name: "MedAid", Capabilities: health},
			},
		},
	)
	if withModel {
		svc.SetModel(testModel())
	}
	return svc
}

func setupTestRouter(svc Querier, store Store, runner Runner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(svc, store, runner)
	handler.RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		withModel bool
	}{
		{"with model", true},
		{"without model", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(testService(tt.withModel), nil, nil)
			w := doRequest(router, "GET", "/health", nil)

			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", w.Code)
			}

			var resp struct {
				Status      string `json:"status"`
				ModelLoaded bool   `json:"model_loaded"`
			}
			json.Unmarshal(w.Body.Bytes(), &resp)

			if resp.Status != "ok" {
				t.Errorf("expected status ok, got %s", resp.Status)
			}
			if resp.ModelLoaded != tt.withModel {
				t.Errorf("expected model_loaded %v, got %v", tt.withModel, resp.ModelLoaded)
			}
		})
	}
}

func TestListNGOsAndDistricts(t *testing.T) {
	router := setupTestRouter(testService(true), nil, nil)

	w := doRequest(router, "GET", "/api/ngos", nil)
	var ngos struct {
		NGOs []string `json:"ngos"`
	}
	json.Unmarshal(w.Body.Bytes(), &ngos)
	if len(ngos.NGOs) != 2 || ngos.NGOs[0] != "Habitat" {
		t.Errorf("unexpected ngos %v", ngos.NGOs)
	}

	w = doRequest(router, "GET", "/api/districts", nil)
	var districts struct {
		Districts []districtSummary `json:"districts"`
	}
	json.Unmarshal(w.Body.Bytes(), &districts)
	if len(districts.Districts) != 2 {
		t.Fatalf("expected 2 districts, got %d", len(districts.Districts))
	}
	if districts.Districts[0].Latitude == nil || *districts.Districts[0].Latitude != 28.0 {
		t.Errorf("expected Gorkha latitude 28.0, got %v", districts.Districts[0].Latitude)
	}
	if districts.Districts[1].Latitude != nil {
		t.Errorf("expected Kathmandu without location")
	}
}

func TestGetFitness(t *testing.T) {
	trained := setupTestRouter(testService(true), nil, nil)
	untrained := setupTestRouter(testService(false), nil, nil)

	tests := []struct {
		name   string
		router *gin.Engine
		path   string
		want   int
	}{
		{"ok", trained, "/api/fitness?ngo=habitat&district=GORKHA", http.StatusOK},
		{"missing district", trained, "/api/fitness?ngo=Habitat", http.StatusBadRequest},
		{"unknown ngo", trained, "/api/fitness?ngo=Nobody&district=Gorkha", http.StatusNotFound},
		{"unknown district", trained, "/api/fitness?ngo=Habitat&district=Atlantis", http.StatusNotFound},
		{"no model", untrained, "/api/fitness?ngo=Habitat&district=Gorkha", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(tt.router, "GET", tt.path, nil)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := doRequest(trained, "GET", "/api/fitness?ngo=habitat&district=GORKHA", nil)
	var p fitness.Prediction
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if p.NGO != "Habitat" || p.District != "Gorkha" {
		t.Errorf("expected canonical names, got %s/%s", p.NGO, p.District)
	}
	if p.Fitness != 85 || p.ModelID != "m1" {
		t.Errorf("unexpected prediction %+v", p)
	}
}

func TestBatchFitness(t *testing.T) {
	router := setupTestRouter(testService(true), nil, nil)

	body := []byte(`{"pairs":[
		{"ngo":"Habitat","district":"Gorkha"},
		{"ngo":"Habitat","district":"Atlantis"},
		{"ngo":"MedAid","district":"Kathmandu"}
	]}`)
	w := doRequest(router, "POST", "/api/fitness", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []struct {
			NGO      string  `json:"ngo"`
			District string  `json:"district"`
			Fitness  float64 `json:"fitness"`
			Error    string  `json:"error"`
			Status   int     `json:"status"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Fitness != 85 || resp.Results[0].Error != "" {
		t.Errorf("unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Status != http.StatusNotFound || resp.Results[1].Error == "" {
		t.Errorf("expected 404 for unknown district, got %+v", resp.Results[1])
	}
	if resp.Results[2].Fitness != 85 {
		t.Errorf("expected MedAid/Kathmandu fitness 85, got %v", resp.Results[2].Fitness)
	}
}

func TestBatchFitness_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		withModel bool
		body      string
		want      int
	}{
		{"empty list", true, `{"pairs":[]}`, http.StatusBadRequest},
		{"missing field", true, `{"pairs":[{"ngo":"Habitat"}]}`, http.StatusBadRequest},
		{"malformed", true, `{"pairs":`, http.StatusBadRequest},
		{"no model", false, `{"pairs":[{"ngo":"Habitat","district":"Gorkha"}]}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(testService(tt.withModel), nil, nil)
			w := doRequest(router, "POST", "/api/fitness", []byte(tt.body))
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRankDistricts(t *testing.T) {
	router := setupTestRouter(testService(true), nil, nil)

	w := doRequest(router, "GET", "/api/ngos/Habitat/districts", nil)
	var resp struct {
		Districts []fitness.Prediction `json:"districts"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Districts) != 2 {
		t.Fatalf("expected 2 districts, got %d", len(resp.Districts))
	}
	if resp.Districts[0].District != "Gorkha" {
		t.Errorf("expected Gorkha first, got %s", resp.Districts[0].District)
	}

	w = doRequest(router, "GET", "/api/ngos/Habitat/districts?limit=1", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Districts) != 1 {
		t.Errorf("expected 1 district with limit, got %d", len(resp.Districts))
	}

	w = doRequest(router, "GET", "/api/ngos/Habitat/districts?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	w = doRequest(router, "GET", "/api/ngos/Nobody/districts", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown ngo, got %d", w.Code)
	}
}

func TestRankNGOs(t *testing.T) {
	router := setupTestRouter(testService(true), nil, nil)

	w := doRequest(router, "GET", "/api/districts/Kathmandu/ngos", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		NGOs []fitness.Prediction `json:"ngos"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.NGOs) != 2 {
		t.Fatalf("expected 2 ngos, got %d", len(resp.NGOs))
	}
	if resp.NGOs[0].NGO != "MedAid" {
		t.Errorf("expected MedAid first, got %s", resp.NGOs[0].NGO)
	}
}

func TestNGOGeoJSON(t *testing.T) {
	router := setupTestRouter(testService(true), nil, nil)

	w := doRequest(router, "GET", "/api/ngos/Habitat/geojson", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", contentType)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %s", fc.Type)
	}

	// Kathmandu has no location and is left out.
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	f := fc.Features[0]
	if f.Geometry.Coordinates[0] != 84.6 || f.Geometry.Coordinates[1] != 28.0 {
		t.Errorf("expected [lon, lat] coordinates, got %v", f.Geometry.Coordinates)
	}
	if f.Properties["district"] != "Gorkha" || f.Properties["rank"] != float64(1) {
		t.Errorf("unexpected properties %v", f.Properties)
	}
}

func TestListScores_Filters(t *testing.T) {
	store := &mockStore{
		pairs: []models.ScoredPair{
			{NGO: "Habitat", District: "Gorkha", Fitness: 90},
			{NGO: "Habitat", District: "Kathmandu", Fitness: 40},
			{NGO: "MedAid", District: "Kathmandu", Fitness: 80},
		},
	}
	router := setupTestRouter(testService(true), store, nil)

	w := doRequest(router, "GET", "/api/scores?ngo=Habitat&min_fitness=50&limit=2&offset=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	f := store.lastFilter
	if f.NGO == nil || *f.NGO != "Habitat" {
		t.Errorf("expected ngo filter Habitat, got %v", f.NGO)
	}
	if f.District != nil {
		t.Errorf("expected no district filter, got %v", *f.District)
	}
	if f.MinFitness == nil || *f.MinFitness != 50 {
		t.Errorf("expected min_fitness 50, got %v", f.MinFitness)
	}
	if f.Limit != 2 || f.Offset != 1 {
		t.Errorf("expected limit 2 offset 1, got %d/%d", f.Limit, f.Offset)
	}

	var resp struct {
		Scores []models.ScoredPair `json:"scores"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Scores) != 2 {
		t.Errorf("expected 2 scores, got %d", len(resp.Scores))
	}
}

func TestListScores_DefaultLimit(t *testing.T) {
	store := &mockStore{}
	router := setupTestRouter(testService(true), store, nil)

	w := doRequest(router, "GET", "/api/scores?limit=100000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if store.lastFilter.Limit != defaultLimit {
		t.Errorf("expected out of range limit to fall back to %d, got %d", defaultLimit, store.lastFilter.Limit)
	}
	if w.Body.String() != `{"scores":[]}` {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestGetModel(t *testing.T) {
	store := &mockStore{
		models: []repository.ModelInfo{
			{Info: testModel().Info(), Active: true},
			{Info: predictor.Info{ID: "m0"}},
		},
	}
	router := setupTestRouter(testService(true), store, nil)

	w := doRequest(router, "GET", "/api/model", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Active  predictor.Info         `json:"active"`
		History []repository.ModelInfo `json:"history"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Active.ID != "m1" || resp.Active.Trees != 1 {
		t.Errorf("unexpected active model %+v", resp.Active)
	}
	if len(resp.History) != 2 || !resp.History[0].Active {
		t.Errorf("unexpected history %+v", resp.History)
	}

	untrained := setupTestRouter(testService(false), store, nil)
	w = doRequest(untrained, "GET", "/api/model", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without model, got %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	store := &mockStore{
		runs: []repository.Run{
			{ID: "r1", Stage: "train", Status: "ok"},
		},
	}
	router := setupTestRouter(testService(true), store, nil)

	w := doRequest(router, "GET", "/api/pipeline/runs?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if store.lastLimit != 5 {
		t.Errorf("expected limit 5, got %d", store.lastLimit)
	}

	store.err = errors.New("db closed")
	w = doRequest(router, "GET", "/api/pipeline/runs", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store error, got %d", w.Code)
	}
}

func TestRunPipeline(t *testing.T) {
	tests := []struct {
		name   string
		runner *mockRunner
		want   int
	}{
		{"ok", &mockRunner{result: &pipeline.Result{RunID: "r1", Districts: 2, NGOs: 2, Pairs: 4}}, http.StatusOK},
		{"busy", &mockRunner{err: pipeline.ErrBusy}, http.StatusConflict},
		{"empty input", &mockRunner{err: &models.EmptyInputError{Table: "district_damage"}}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(testService(true), nil, tt.runner)
			w := doRequest(router, "POST", "/api/pipeline/run", nil)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
			if tt.runner.calls != 1 {
				t.Errorf("expected 1 run, got %d", tt.runner.calls)
			}
		})
	}

	router := setupTestRouter(testService(true), nil, nil)
	w := doRequest(router, "POST", "/api/pipeline/run", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without runner, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	from := func(addr string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w
	}

	first := from("10.0.0.1:1234")
	second := from("10.0.0.1:1234")
	other := from("10.0.0.2:1234")

	if first.Code != http.StatusOK {
		t.Errorf("expected first request 200, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected second request 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", second.Header().Get("Retry-After"))
	}
	if other.Code != http.StatusOK {
		t.Errorf("expected a different client to pass, got %d", other.Code)
	}
}
