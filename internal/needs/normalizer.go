// Package needs turns raw district damage metrics into the normalized need
// matrix used for scoring.
package needs

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

const (
	DamageTable     = "district_damage"
	PopulationTable = "population_density"
)

// Raw computes the eleven un-normalized need components for one district.
// maxDensity is the largest population density across all districts.
func Raw(d models.DistrictMetrics, density, maxDensity float64) models.Vector {
	var v models.Vector

	densityRatio := 0.0
	if maxDensity > 0 {
		densityRatio = density / maxDensity
	}
	logistics := 100 - d.RoadAccessibilityScore

	v[models.CategoryShelter] = d.HousesDestroyedPct
	v[models.CategoryWash] = d.WaterFacilitiesDamagedPct * densityRatio
	v[models.CategoryFood] = d.FoodInsecureHouseholdsPct
	v[models.CategoryLogistics] = logistics
	v[models.CategoryRescue] = d.HousesDestroyedPct * logistics / 100
	v[models.CategoryHealth] = d.HealthFacilitiesDamagedPct
	v[models.CategoryCash] = d.PovertyRate * d.HousesDestroyedPct / 100
	v[models.CategoryComms] = 100 - d.TelecomCoveragePct
	v[models.CategoryPsych] = d.DisplacedPopPct
	v[models.CategoryInfra] = d.PublicInfraDamagedPct
	v[models.CategoryAgri] = d.FarmlandLostPct

	return v
}

// checkRange rejects values that are not finite or fall outside [0, hi].
func checkRange(table, row, column string, v, hi float64) error {
	reason := ""
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		reason = "not a finite number"
	case v < 0 || v > hi:
		reason = fmt.Sprintf("outside [0, %g]", hi)
	default:
		return nil
	}
	return &models.InvalidValueError{
		Table:  table,
		Row:    row,
		Column: column,
		Value:  strconv.FormatFloat(v, 'g', -1, 64),
		Reason: reason,
	}
}

// Build joins districts with population density on normalized district name,
// computes raw needs and min-max normalizes each category across districts to
// [0,100]. A category whose raw values are all equal normalizes to 0. Raw
// indicators outside [0,100] and negative or non-finite densities are
// rejected with an InvalidValueError.
// Rows come back sorted by district name.
func Build(districts []models.DistrictMetrics, population []models.PopulationDensity) (*models.NeedMatrix, error) {
	if len(districts) == 0 {
		return nil, &models.EmptyInputError{Table: DamageTable}
	}

	density := make(map[string]float64, len(population))
	for _, p := range population {
		if err := checkRange(PopulationTable, p.District, "pop_density", p.Density, math.Inf(1)); err != nil {
			return nil, err
		}
		density[models.NormalizeName(p.District)] = p.Density
	}

	densities := make([]float64, len(districts))
	maxDensity := 0.0
	for i, d := range districts {
		for _, ind := range d.Indicators() {
			if err := checkRange(DamageTable, d.Name, ind.Column, ind.Value, 100); err != nil {
				return nil, err
			}
		}
		pd, ok := density[models.NormalizeName(d.Name)]
		if !ok {
			return nil, &models.MissingColumnError{Table: PopulationTable, Column: "pop_density", Row: d.Name}
		}
		densities[i] = pd
		maxDensity = math.Max(maxDensity, pd)
	}

	rows := make([]models.DistrictNeed, len(districts))
	for i, d := range districts {
		rows[i] = models.DistrictNeed{
			District: d.Name,
			Location: d.Location,
			Needs:    Raw(d, densities[i], maxDensity),
		}
	}

	normalize(rows)

	sort.SliceStable(rows, func(i, j int) bool {
		return models.NormalizeName(rows[i].District) < models.NormalizeName(rows[j].District)
	})

	return &models.NeedMatrix{
		Categories: models.AllCategories(),
		Rows:       rows,
	}, nil
}

func normalize(rows []models.DistrictNeed) {
	for c := 0; c < models.NumCategories; c++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			lo = math.Min(lo, r.Needs[c])
			hi = math.Max(hi, r.Needs[c])
		}
		span := hi - lo
		for i := range rows {
			if span == 0 {
				rows[i].Needs[c] = 0
				continue
			}
			rows[i].Needs[c] = (rows[i].Needs[c] - lo) / span * 100
		}
	}
}
