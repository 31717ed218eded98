package api

import (
	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON renders ranked predictions as district points. Districts without
// coordinates are left out.
func toGeoJSON(ranked []fitness.Prediction, lookup func(string) (models.DistrictNeed, bool)) FeatureCollection {
	features := make([]Feature, 0, len(ranked))

	for i, p := range ranked {
		d, ok := lookup(p.District)
		if !ok || d.Location == nil {
			continue
		}

		needs := make(map[string]float64, models.NumCategories)
		for _, c := range models.AllCategories() {
			needs[c.Key()] = d.Needs[c]
		}

		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{d.Location.Longitude, d.Location.Latitude},
			},
			Properties: map[string]any{
				"ngo":      p.NGO,
				"district": p.District,
				"rank":     i + 1,
				"fitness":  p.Fitness,
				"match":    p.Match,
				"urgency":  p.Urgency,
				"model_id": p.ModelID,
				"needs":    needs,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
