package model

// AnalysisResult is a nutrition estimate produced by the vision model.
// Field names follow the JSON contract the model is prompted with.
type AnalysisResult struct {
	Name        string  `json:"name"`
	Brand       *string `json:"brand"`
	ServingSize string  `json:"serving_size"`
	Calories    float64 `json:"calories"`
	ProteinG    float64 `json:"protein_g"`
	CarbsG      float64 `json:"carbs_g"`
	FatG        float64 `json:"fat_g"`
	FiberG      float64 `json:"fiber_g"`
	SugarG      float64 `json:"sugar_g"`
	SodiumMg    float64 `json:"sodium_mg"`
	Ingredients *string `json:"ingredients"`
	Allergens   *string `json:"allergens"`
	HealthNotes *string `json:"health_notes"`
	Confidence  float64 `json:"confidence"`
}

// Normalize clamps values a model may return out of range.
func (r *AnalysisResult) Normalize() {
	for _, v := range []*float64{&r.Calories, &r.ProteinG, &r.CarbsG, &r.FatG, &r.FiberG, &r.SugarG, &r.SodiumMg} {
		if *v < 0 {
			*v = 0
		}
	}
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
}

// ImageInput references the photo to analyze. Exactly one of Base64 or URL
// is expected; Base64 wins when both are set.
type ImageInput struct {
	Base64   string
	MIMEType string
	URL      string
}
