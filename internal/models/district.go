package models

// DistrictMetrics is one row of the damage table. All percentages are in [0,100].
type DistrictMetrics struct {
	Name                       string
	HousesDestroyedPct         float64
	HealthFacilitiesDamagedPct float64
	WaterFacilitiesDamagedPct  float64
	FoodInsecureHouseholdsPct  float64
	DisplacedPopPct            float64
	RoadAccessibilityScore     float64
	TelecomCoveragePct         float64
	PovertyRate                float64
	PublicInfraDamagedPct      float64
	FarmlandLostPct            float64
	Location                   *Coordinates // optional, for mapping collaborators
}

// Indicator is one named raw metric of a district.
type Indicator struct {
	Column string
	Value  float64
}

// Indicators lists the raw metrics under their damage-table column names.
func (d DistrictMetrics) Indicators() []Indicator {
	return []Indicator{
		{"houses_destroyed_pct", d.HousesDestroyedPct},
		{"health_facilities_damaged_pct", d.HealthFacilitiesDamagedPct},
		{"water_facilities_damaged_pct", d.WaterFacilitiesDamagedPct},
		{"food_insecure_households_pct", d.FoodInsecureHouseholdsPct},
		{"displaced_pop_pct", d.DisplacedPopPct},
		{"road_accessibility_score", d.RoadAccessibilityScore},
		{"telecom_coverage_pct", d.TelecomCoveragePct},
		{"poverty_rate", d.PovertyRate},
		{"public_infra_damaged_pct", d.PublicInfraDamagedPct},
		{"farmland_lost_pct", d.FarmlandLostPct},
	}
}

type PopulationDensity struct {
	District string
	Density  float64 // people per km²
}

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// DistrictNeed is one row of the need matrix.
type DistrictNeed struct {
	District string
	Location *Coordinates
	Needs    Vector // each component in [0,100]
}

// NeedMatrix is the normalized need table. Categories lists the need columns
// actually carried; matrices built by the normalizer carry all eleven.
type NeedMatrix struct {
	Categories []Category
	Rows       []DistrictNeed
}

// Find looks a district up by normalized name.
func (m *NeedMatrix) Find(name string) (*DistrictNeed, bool) {
	if m == nil {
		return nil, false
	}
	key := NormalizeName(name)
	for i := range m.Rows {
		if NormalizeName(m.Rows[i].District) == key {
			return &m.Rows[i], true
		}
	}
	return nil, false
}

func (m *NeedMatrix) Districts() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.Rows))
	for i, r := range m.Rows {
		names[i] = r.District
	}
	return names
}
