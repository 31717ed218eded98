package needs

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

func sampleDistricts() []models.DistrictMetrics {
	return []models.DistrictMetrics{
		{
			Name: "Sindhupalchok", HousesDestroyedPct: 80, HealthFacilitiesDamagedPct: 70,
			WaterFacilitiesDamagedPct: 60, FoodInsecureHouseholdsPct: 55, DisplacedPopPct: 40,
			RoadAccessibilityScore: 20, TelecomCoveragePct: 30, PovertyRate: 50,
			PublicInfraDamagedPct: 65, FarmlandLostPct: 25,
		},
		{
			Name: "Kathmandu", HousesDestroyedPct: 10, HealthFacilitiesDamagedPct: 15,
			WaterFacilitiesDamagedPct: 20, FoodInsecureHouseholdsPct: 10, DisplacedPopPct: 12,
			RoadAccessibilityScore: 90, TelecomCoveragePct: 95, PovertyRate: 15,
			PublicInfraDamagedPct: 20, FarmlandLostPct: 5,
		},
		{
			Name: "Gorkha", HousesDestroyedPct: 45, HealthFacilitiesDamagedPct: 50,
			WaterFacilitiesDamagedPct: 40, FoodInsecureHouseholdsPct: 35, DisplacedPopPct: 30,
			RoadAccessibilityScore: 10, TelecomCoveragePct: 50, PovertyRate: 40,
			PublicInfraDamagedPct: 45, FarmlandLostPct: 35,
		},
	}
}

func samplePopulation() []models.PopulationDensity {
	return []models.PopulationDensity{
		{District: "sindhupalchok", Density: 113},
		{District: " KATHMANDU ", Density: 4416},
		{District: "Gorkha", Density: 76},
	}
}

func TestRaw(t *testing.T) {
	d := models.DistrictMetrics{
		HousesDestroyedPct: 80, WaterFacilitiesDamagedPct: 50, RoadAccessibilityScore: 20,
		PovertyRate: 50, TelecomCoveragePct: 70,
	}

	v := Raw(d, 50, 100)

	assert.Equal(t, 80.0, v[models.CategoryShelter])
	assert.Equal(t, 25.0, v[models.CategoryWash])
	assert.Equal(t, 80.0, v[models.CategoryLogistics])
	assert.Equal(t, 64.0, v[models.CategoryRescue])
	assert.Equal(t, 40.0, v[models.CategoryCash])
	assert.Equal(t, 30.0, v[models.CategoryComms])
}

func TestRaw_ZeroMaxDensity(t *testing.T) {
	v := Raw(models.DistrictMetrics{WaterFacilitiesDamagedPct: 90}, 0, 0)
	assert.Equal(t, 0.0, v[models.CategoryWash])
}

func TestBuild_MinMaxBounds(t *testing.T) {
	m, err := Build(sampleDistricts(), samplePopulation())
	require.NoError(t, err)
	require.Len(t, m.Rows, 3)
	assert.Len(t, m.Categories, models.NumCategories)

	for c := 0; c < models.NumCategories; c++ {
		lo, hi := 101.0, -1.0
		for _, r := range m.Rows {
			v := r.Needs[c]
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
			lo = min(lo, v)
			hi = max(hi, v)
		}
		assert.Equal(t, 0.0, lo, "category %s min", models.Category(c))
		assert.Equal(t, 100.0, hi, "category %s max", models.Category(c))
	}
}

func TestBuild_ShelterAndLogisticsExample(t *testing.T) {
	m, err := Build(sampleDistricts(), samplePopulation())
	require.NoError(t, err)

	row, ok := m.Find("Sindhupalchok")
	require.True(t, ok)

	// houses 80 is the maximum of 10..80; logistics 100-20=80 within 10..90.
	assert.Equal(t, 100.0, row.Needs[models.CategoryShelter])
	assert.InDelta(t, (80.0-10.0)/(90.0-10.0)*100, row.Needs[models.CategoryLogistics], 1e-9)
}

func TestBuild_ConstantColumnIsZero(t *testing.T) {
	districts := sampleDistricts()
	for i := range districts {
		districts[i].FarmlandLostPct = 42
	}

	m, err := Build(districts, samplePopulation())
	require.NoError(t, err)

	for _, r := range m.Rows {
		assert.Equal(t, 0.0, r.Needs[models.CategoryAgri])
	}
}

func TestBuild_SortedAndDeterministic(t *testing.T) {
	first, err := Build(sampleDistricts(), samplePopulation())
	require.NoError(t, err)
	second, err := Build(sampleDistricts(), samplePopulation())
	require.NoError(t, err)

	assert.Equal(t, []string{"Gorkha", "Kathmandu", "Sindhupalchok"}, first.Districts())
	assert.Equal(t, fmt.Sprintf("%#v", first), fmt.Sprintf("%#v", second))
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name       string
		districts  []models.DistrictMetrics
		population []models.PopulationDensity
		target     error
	}{
		{
			name:       "empty damage table",
			districts:  nil,
			population: samplePopulation(),
			target:     models.ErrEmptyInput,
		},
		{
			name:       "district without population row",
			districts:  sampleDistricts(),
			population: samplePopulation()[:2],
			target:     models.ErrMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.districts, tt.population)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestBuild_MissingPopulationNamesDistrict(t *testing.T) {
	_, err := Build(sampleDistricts(), samplePopulation()[:2])

	var mc *models.MissingColumnError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, PopulationTable, mc.Table)
	assert.Equal(t, "pop_density", mc.Column)
	assert.Equal(t, "Gorkha", mc.Row)
}

func TestBuild_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d []models.DistrictMetrics, p []models.PopulationDensity)
		table  string
		row    string
		column string
	}{
		{
			name:   "negative density",
			mutate: func(d []models.DistrictMetrics, p []models.PopulationDensity) { p[0].Density = -1 },
			table:  PopulationTable,
			row:    "sindhupalchok",
			column: "pop_density",
		},
		{
			name:   "infinite density",
			mutate: func(d []models.DistrictMetrics, p []models.PopulationDensity) { p[2].Density = math.Inf(1) },
			table:  PopulationTable,
			row:    "Gorkha",
			column: "pop_density",
		},
		{
			name:   "NaN indicator",
			mutate: func(d []models.DistrictMetrics, p []models.PopulationDensity) { d[1].HousesDestroyedPct = math.NaN() },
			table:  DamageTable,
			row:    "Kathmandu",
			column: "houses_destroyed_pct",
		},
		{
			name:   "percentage above 100",
			mutate: func(d []models.DistrictMetrics, p []models.PopulationDensity) { d[0].PovertyRate = 150 },
			table:  DamageTable,
			row:    "Sindhupalchok",
			column: "poverty_rate",
		},
		{
			name:   "negative road score",
			mutate: func(d []models.DistrictMetrics, p []models.PopulationDensity) { d[2].RoadAccessibilityScore = -40 },
			table:  DamageTable,
			row:    "Gorkha",
			column: "road_accessibility_score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			districts, pop := sampleDistricts(), samplePopulation()
			tt.mutate(districts, pop)

			_, err := Build(districts, pop)
			require.ErrorIs(t, err, models.ErrInvalidValue)

			var iv *models.InvalidValueError
			require.ErrorAs(t, err, &iv)
			assert.Equal(t, tt.table, iv.Table)
			assert.Equal(t, tt.row, iv.Row)
			assert.Equal(t, tt.column, iv.Column)
		})
	}
}
