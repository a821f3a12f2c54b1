package filter

import (
	"math"
	"sort"
	"sync"
)

const (
	baselineSmoothing = 0.08
	spikeDampening    = 0.2
	spikeRatio        = 2.5
)

// Baseline holds the exponentially weighted means the detector scores against.
type Baseline struct {
	RPS                   float64 `json:"rps"`
	EndpointConcentration float64 `json:"endpointConcentration"`
	HeaderEntropy         float64 `json:"headerEntropy"`
	PayloadVariance       float64 `json:"payloadVariance"`
	Burstiness            float64 `json:"burstiness"`
}

// DefaultBaseline is seeded at plausible legitimate values.
func DefaultBaseline() Baseline {
	return Baseline{
		RPS:                   2,
		EndpointConcentration: 0.2,
		HeaderEntropy:         2.5,
		PayloadVariance:       2000,
		Burstiness:            0.1,
	}
}

type AnomalyResult struct {
	Score        int      `json:"score"`
	Contributors []string `json:"contributors"`
	Baseline     Baseline `json:"baseline"`
}

// rpsFloors force a minimum score once the rate ratio crosses each step.
var rpsFloors = []struct {
	ratio float64
	floor int
}{
	{20, 75},
	{10, 60},
	{5, 40},
	{2.5, 25},
}

// AnomalyDetector scores a target's features against its self-adjusting baseline.
type AnomalyDetector struct {
	mu       sync.Mutex
	baseline Baseline
}

func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{baseline: DefaultBaseline()}
}

func (d *AnomalyDetector) Baseline() Baseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline
}

func scoreFeature(value, base float64, higherIsRisky bool) float64 {
	if base == 0 {
		return 0
	}
	var ratio float64
	if higherIsRisky {
		ratio = value / base
	} else {
		ratio = base / math.Max(value, 0.0001)
	}
	return math.Min(math.Max(ratio-1, 0), 4) / 4
}

// Score computes the composite anomaly score and then folds the features into
// the baseline.
func (d *AnomalyDetector) Score(f Features) AnomalyResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.baseline
	rps := math.Max(f.RPS, f.RecentRPS)

	rpsScore := scoreFeature(rps, b.RPS, true)
	concentrationScore := scoreFeature(f.EndpointConcentration, b.EndpointConcentration, true)
	entropyScore := scoreFeature(f.HeaderEntropy, b.HeaderEntropy, false)
	varianceScore := scoreFeature(f.PayloadVariance, b.PayloadVariance, true)
	burstScore := scoreFeature(f.Burstiness, b.Burstiness, true)

	composite := rpsScore*0.4 + concentrationScore*0.2 + entropyScore*0.2 + varianceScore*0.1 + burstScore*0.1
	score := int(math.Round(composite * 100))

	ratio := rps
	if b.RPS > 0 {
		ratio = rps / b.RPS
	}
	for _, step := range rpsFloors {
		if ratio >= step.ratio {
			score = max(score, step.floor)
			break
		}
	}

	uniqueness := f.HeaderUniqueness
	if uniqueness == 0 {
		uniqueness = 1
	}
	if rps > 10 && uniqueness < 0.3 && f.EndpointConcentration > 0.4 {
		score = max(score, 45)
	}
	if concentrationScore > 0.65 && entropyScore > 0.55 {
		score = max(score, 70)
	}

	contributors := []struct {
		feature string
		weight  float64
	}{
		{"rps", rpsScore},
		{"endpointConcentration", concentrationScore},
		{"headerEntropy", entropyScore},
		{"payloadVariance", varianceScore},
		{"burstiness", burstScore},
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].weight > contributors[j].weight
	})
	top := make([]string, 0, 3)
	for _, c := range contributors[:3] {
		top = append(top, c.feature)
	}

	factor := 1.0
	if rps > b.RPS*spikeRatio {
		factor = spikeDampening
	}
	d.update(f, rps, factor)

	return AnomalyResult{
		Score:        score,
		Contributors: top,
		Baseline:     d.baseline,
	}
}

func (d *AnomalyDetector) update(f Features, rps, factor float64) {
	alpha := baselineSmoothing * factor
	ewma := func(base, v float64) float64 { return base*(1-alpha) + v*alpha }

	d.baseline.RPS = ewma(d.baseline.RPS, rps)
	d.baseline.EndpointConcentration = ewma(d.baseline.EndpointConcentration, f.EndpointConcentration)
	d.baseline.HeaderEntropy = ewma(d.baseline.HeaderEntropy, f.HeaderEntropy)
	d.baseline.PayloadVariance = ewma(d.baseline.PayloadVariance, f.PayloadVariance)
	d.baseline.Burstiness = ewma(d.baseline.Burstiness, f.Burstiness)
}
