package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/metrics"
	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/pipeline"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
	"github.com/mr1hm/go-relief-fitness/internal/repository"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Querier is the fitness service surface the HTTP API serves.
type Querier interface {
	Predict(ngo, district string) (fitness.Prediction, error)
	RankDistricts(ngo string, limit int) ([]fitness.Prediction, error)
	RankNGOs(district string, limit int) ([]fitness.Prediction, error)
	NGOs() []string
	Districts() []string
	District(name string) (models.DistrictNeed, bool)
	Model() (*predictor.Model, error)
}

// Store serves stored pipeline output.
type Store interface {
	ListPairs(ctx context.Context, opts repository.Filter) ([]models.ScoredPair, error)
	ListModels(ctx context.Context) ([]repository.ModelInfo, error)
	ListRuns(ctx context.Context, limit int) ([]repository.Run, error)
}

type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

type Handler struct {
	svc    Querier
	store  Store
	runner Runner
}

func NewHandler(svc Querier, store Store, runner Runner) *Handler {
	return &Handler{
		svc:    svc,
		store:  store,
		runner: runner,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/ngos", h.listNGOs)
	api.GET("/districts", h.listDistricts)
	api.GET("/fitness", h.getFitness)
	api.POST("/fitness", h.batchFitness)
	api.GET("/ngos/:ngo/districts", h.rankDistricts)
	api.GET("/ngos/:ngo/geojson", h.ngoGeoJSON)
	api.GET("/districts/:district/ngos", h.rankNGOs)
	api.GET("/scores", h.listScores)
	api.GET("/model", h.getModel)
	api.GET("/pipeline/runs", h.listRuns)
	api.POST("/pipeline/run", h.runPipeline)
}

func (h *Handler) health(c *gin.Context) {
	_, err := h.svc.Model()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": err == nil,
	})
}

func (h *Handler) listNGOs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ngos": nonNil(h.svc.NGOs())})
}

type districtSummary struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (h *Handler) listDistricts(c *gin.Context) {
	names := h.svc.Districts()
	out := make([]districtSummary, 0, len(names))
	for _, name := range names {
		s := districtSummary{Name: name}
		if d, ok := h.svc.District(name); ok && d.Location != nil {
			s.Latitude = &d.Location.Latitude
			s.Longitude = &d.Location.Longitude
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, gin.H{"districts": out})
}

type fitnessQuery struct {
	NGO      string `form:"ngo" json:"ngo" binding:"required"`
	District string `form:"district" json:"district" binding:"required"`
}

func (h *Handler) getFitness(c *gin.Context) {
	var q fitnessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		metrics.PredictionsTotal.WithLabelValues("http", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "ngo and district query parameters are required"})
		return
	}

	p, err := h.svc.Predict(q.NGO, q.District)
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("http", "error").Inc()
		writeError(c, err)
		return
	}
	metrics.PredictionsTotal.WithLabelValues("http", "ok").Inc()
	c.JSON(http.StatusOK, p)
}

type batchRequest struct {
	Pairs []fitnessQuery `json:"pairs" binding:"required,min=1,max=500,dive"`
}

type batchResult struct {
	*fitness.Prediction
	NGO      string `json:"ngo"`
	District string `json:"district"`
	Error    string `json:"error,omitempty"`
	Status   int    `json:"status"`
}

// batchFitness predicts a list of pairs. A missing model fails the whole
// request; per-pair lookup errors are reported inline.
func (h *Handler) batchFitness(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.Model(); err != nil {
		writeError(c, err)
		return
	}

	results := make([]batchResult, 0, len(req.Pairs))
	for _, q := range req.Pairs {
		r := batchResult{NGO: q.NGO, District: q.District, Status: http.StatusOK}
		p, err := h.svc.Predict(q.NGO, q.District)
		if err != nil {
			metrics.PredictionsTotal.WithLabelValues("http", "error").Inc()
			r.Error = err.Error()
			r.Status = statusFor(err)
		} else {
			metrics.PredictionsTotal.WithLabelValues("http", "ok").Inc()
			r.Prediction = &p
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) rankDistricts(c *gin.Context) {
	limit, ok := parseLimit(c, 0)
	if !ok {
		return
	}
	ranked, err := h.svc.RankDistricts(c.Param("ngo"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ngo": c.Param("ngo"), "districts": ranked})
}

func (h *Handler) rankNGOs(c *gin.Context) {
	limit, ok := parseLimit(c, 0)
	if !ok {
		return
	}
	ranked, err := h.svc.RankNGOs(c.Param("district"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"district": c.Param("district"), "ngos": ranked})
}

func (h *Handler) ngoGeoJSON(c *gin.Context) {
	ranked, err := h.svc.RankDistricts(c.Param("ngo"), 0)
	if err != nil {
		writeError(c, err)
		return
	}

	fc := toGeoJSON(ranked, h.svc.District)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

// listScores returns the stored heuristic scores of the last scoring run.
func (h *Handler) listScores(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no score store configured"})
		return
	}

	filter := repository.Filter{
		Limit: defaultLimit,
	}
	if n := c.Query("ngo"); n != "" {
		filter.NGO = &n
	}
	if d := c.Query("district"); d != "" {
		filter.District = &d
	}
	if m := c.Query("min_fitness"); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			filter.MinFitness = &v
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxLimit {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}

	pairs, err := h.store.ListPairs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch scores",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": nonNil(pairs)})
}

func (h *Handler) getModel(c *gin.Context) {
	m, err := h.svc.Model()
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"active": m.Info()}
	if h.store != nil {
		history, err := h.store.ListModels(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list models"})
			return
		}
		resp["history"] = nonNil(history)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run store configured"})
		return
	}
	limit, ok := parseLimit(c, defaultLimit)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": nonNil(runs)})
}

func (h *Handler) runPipeline(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "pipeline is not configured"})
		return
	}
	res, err := h.runner.Run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// parseLimit reads ?limit=, writing a 400 and returning ok=false when it is
// not a non-negative integer up to maxLimit.
func parseLimit(c *gin.Context, def int) (int, bool) {
	l := c.Query("limit")
	if l == "" {
		return def, true
	}
	lim, err := strconv.Atoi(l)
	if err != nil || lim < 0 || lim > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 0 and 500"})
		return 0, false
	}
	return lim, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoOverlap):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
