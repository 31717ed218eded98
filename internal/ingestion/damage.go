package ingestion

import (
	"io"
	"strings"

	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/needs"
)

// damageColumns maps each required damage column to its field.
var damageColumns = []struct {
	name string
	set  func(*models.DistrictMetrics, float64)
}{
	{"houses_destroyed_pct", func(d *models.DistrictMetrics, v float64) { d.HousesDestroyedPct = v }},
	{"health_facilities_damaged_pct", func(d *models.DistrictMetrics, v float64) { d.HealthFacilitiesDamagedPct = v }},
	{"water_facilities_damaged_pct", func(d *models.DistrictMetrics, v float64) { d.WaterFacilitiesDamagedPct = v }},
	{"food_insecure_households_pct", func(d *models.DistrictMetrics, v float64) { d.FoodInsecureHouseholdsPct = v }},
	{"displaced_pop_pct", func(d *models.DistrictMetrics, v float64) { d.DisplacedPopPct = v }},
	{"road_accessibility_score", func(d *models.DistrictMetrics, v float64) { d.RoadAccessibilityScore = v }},
	{"telecom_coverage_pct", func(d *models.DistrictMetrics, v float64) { d.TelecomCoveragePct = v }},
	{"poverty_rate", func(d *models.DistrictMetrics, v float64) { d.PovertyRate = v }},
	{"public_infra_damaged_pct", func(d *models.DistrictMetrics, v float64) { d.PublicInfraDamagedPct = v }},
	{"farmland_lost_pct", func(d *models.DistrictMetrics, v float64) { d.FarmlandLostPct = v }},
}

// ReadDamage parses the district damage table. The district column and the
// ten raw indicator columns are required, and every indicator must be a
// percentage in [0,100]. Latitude and longitude are optional; a row gets a
// location only when both cells are filled.
func ReadDamage(r io.Reader) ([]models.DistrictMetrics, error) {
	t, err := readTable(r, needs.DamageTable)
	if err != nil {
		return nil, err
	}

	nameCol, err := t.require("district")
	if err != nil {
		return nil, err
	}
	cols := make([]int, len(damageColumns))
	for i, c := range damageColumns {
		if cols[i], err = t.require(c.name); err != nil {
			return nil, err
		}
	}
	latCol, hasLat := t.lookup("latitude", "lat")
	lonCol, hasLon := t.lookup("longitude", "lon", "lng")

	if len(t.rows) == 0 {
		return nil, &models.EmptyInputError{Table: t.name}
	}

	out := make([]models.DistrictMetrics, 0, len(t.rows))
	for i, rec := range t.rows {
		line := i + 1
		d := models.DistrictMetrics{Name: strings.TrimSpace(rec[nameCol])}
		for j, c := range damageColumns {
			v, err := t.percent(rec, cols[j], line)
			if err != nil {
				return nil, err
			}
			c.set(&d, v)
		}
		if hasLat && hasLon {
			lat, okLat, err := t.optionalBounded(rec, latCol, line, -90, 90)
			if err != nil {
				return nil, err
			}
			lon, okLon, err := t.optionalBounded(rec, lonCol, line, -180, 180)
			if err != nil {
				return nil, err
			}
			if okLat && okLon {
				d.Location = &models.Coordinates{Latitude: lat, Longitude: lon}
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// ReadPopulation parses the population density table (district, pop_density).
func ReadPopulation(r io.Reader) ([]models.PopulationDensity, error) {
	t, err := readTable(r, needs.PopulationTable)
	if err != nil {
		return nil, err
	}
	nameCol, err := t.require("district")
	if err != nil {
		return nil, err
	}
	densityCol, err := t.require("pop_density")
	if err != nil {
		return nil, err
	}

	out := make([]models.PopulationDensity, 0, len(t.rows))
	for i, rec := range t.rows {
		v, err := t.nonNegative(rec, densityCol, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, models.PopulationDensity{
			District: strings.TrimSpace(rec[nameCol]),
			Density:  v,
		})
	}
	return out, nil
}
