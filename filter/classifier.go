package filter

type Classification struct {
	Class      TrafficClass `json:"trafficClass"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

type classRule struct {
	class      TrafficClass
	confidence float64
	reason     string
	match      func(f Features, anomaly int) bool
}

// classRules are declared in tie-break order.
var classRules = []classRule{
	{
		class:      ClassFlood,
		confidence: 0.9,
		reason:     "High request rate with highly uniform headers and concentrated endpoint targeting.",
		match: func(f Features, anomaly int) bool {
			return (f.RPS > 25 || anomaly > 75) && f.RPS >= 3 &&
				f.HeaderUniqueness < 0.15 && f.EndpointConcentration > 0.55
		},
	},
	{
		class:      ClassBot,
		confidence: 0.82,
		reason:     "Uniform headers with elevated endpoint concentration suggest automated clients.",
		match: func(f Features, anomaly int) bool {
			return (f.RPS > 15 || anomaly > 65) && f.RPS >= 3 &&
				(f.HeaderEntropy < 1.2 || f.HeaderUniqueness < 0.25) && f.EndpointConcentration > 0.5
		},
	},
	{
		class:      ClassFlashCrowd,
		confidence: 0.7,
		reason:     "Diverse headers with distributed endpoints indicate a flash crowd.",
		match: func(f Features, anomaly int) bool {
			return (f.RPS > 6 || anomaly > 40) && f.HeaderEntropy > 2.0 && f.EndpointConcentration < 0.4
		},
	},
}

// Classify collects every matching rule and keeps the most confident one.
func Classify(f Features, anomalyScore int) Classification {
	var best *classRule
	for i := range classRules {
		rule := &classRules[i]
		if !rule.match(f, anomalyScore) {
			continue
		}
		if best == nil || rule.confidence > best.confidence {
			best = rule
		}
	}

	if best == nil {
		return Classification{
			Class:      ClassLegit,
			Confidence: 0.4,
			Reason:     "Traffic matches baseline patterns.",
		}
	}
	return Classification{Class: best.class, Confidence: best.confidence, Reason: best.reason}
}
