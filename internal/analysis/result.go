package analysis

// Stage records which normalization step produced a Result.
type Stage string

const (
	StageVerbatim Stage = "verbatim"
	StageCleaned  Stage = "cleaned"
	StageFenced   Stage = "fenced"
	StageBraces   Stage = "braces"
	StageFallback Stage = "fallback"
)

const (
	// FallbackConfidence marks a result the model did not actually produce.
	FallbackConfidence  = 0.1
	FallbackDescription = "Analysis failed due to JSON parsing error"
)

// Result is the structured analysis of one image.
type Result struct {
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Tags        map[string]any `json:"tags"`
}

// Normalized is a Result together with the stage that recovered it.
type Normalized struct {
	Result Result
	Stage  Stage
}

// IsFallback reports whether no stage could parse the model output.
func (n *Normalized) IsFallback() bool {
	return n.Stage == StageFallback
}
