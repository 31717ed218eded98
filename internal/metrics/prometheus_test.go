package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitAndHandler(t *testing.T) {
	Init()
	Init() // second call must not panic on duplicate registration

	PredictionsTotal.WithLabelValues("http", "ok").Inc()
	StageDuration.WithLabelValues("train", "ok").Observe(0.2)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	for _, name := range []string{
		"relief_fitness_predictions_total",
		"relief_fitness_stage_duration_seconds",
		"relief_fitness_model_r2",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
