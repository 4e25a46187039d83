package fingerprint

// Options tunes detection. Zero values are replaced by DefaultOptions.
type Options struct {
	// Reference-guided mode.
	TemplatePoints    int
	Threshold         float64
	MinCoverage       float64
	MinTemplateVoiced int

	// Shared.
	MinVoicedFrames int

	// Automatic mode.
	MaxGap            float64
	MinRegion         float64
	MinRegionVoiced   int
	MinSeparation     float64
	SilenceGap        float64
	MaxAutoConfidence float64

	// Progress, when set, receives (done, total) units of work.
	Progress func(done, total int)
}

func DefaultOptions() Options {
	return Options{
		TemplatePoints:    64,
		Threshold:         0.6,
		MinCoverage:       0.5,
		MinTemplateVoiced: 5,
		MinVoicedFrames:   10,
		MaxGap:            0.3,
		MinRegion:         1.0,
		MinRegionVoiced:   10,
		MinSeparation:     1.0,
		SilenceGap:        2.0,
		MaxAutoConfidence: 0.9,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TemplatePoints <= 0 {
		o.TemplatePoints = d.TemplatePoints
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = d.Threshold
	}
	if o.MinCoverage <= 0 || o.MinCoverage > 1 {
		o.MinCoverage = d.MinCoverage
	}
	if o.MinTemplateVoiced <= 0 {
		o.MinTemplateVoiced = d.MinTemplateVoiced
	}
	if o.MinVoicedFrames <= 0 {
		o.MinVoicedFrames = d.MinVoicedFrames
	}
	if o.MaxGap <= 0 {
		o.MaxGap = d.MaxGap
	}
	if o.MinRegion <= 0 {
		o.MinRegion = d.MinRegion
	}
	if o.MinRegionVoiced <= 0 {
		o.MinRegionVoiced = d.MinRegionVoiced
	}
	if o.MinSeparation <= 0 {
		o.MinSeparation = d.MinSeparation
	}
	if o.SilenceGap <= 0 {
		o.SilenceGap = d.SilenceGap
	}
	if o.MaxAutoConfidence <= 0 || o.MaxAutoConfidence > 1 {
		o.MaxAutoConfidence = d.MaxAutoConfidence
	}
	return o
}

func (o Options) report(done, total int) {
	if o.Progress != nil {
		o.Progress(done, total)
	}
}
