package models

// ScoredPair is one (NGO, district) row of the scoring output. Fitness holds
// the heuristic label when produced by the scorer and a model prediction when
// produced by inference; both are on the [0,100] scale.
type ScoredPair struct {
	NGO      string  `json:"ngo"`
	District string  `json:"district"`
	Match    float64 `json:"match"`   // cosine similarity in [-1,1]
	Urgency  float64 `json:"urgency"` // [0,1]
	Fitness  float64 `json:"fitness"`
}
