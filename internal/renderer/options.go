package renderer

// Options is the renderer's visual configuration. The engine passes it
// through untouched.
type Options struct {
	Variant     Variant `json:"-"`
	Height      int     `json:"height"`
	BarWidth    int     `json:"barWidth"`
	BarGap      int     `json:"barGap"`
	BarRadius   int     `json:"barRadius"`
	Normalize   bool    `json:"normalize"`
	Interactive bool    `json:"interact"`
	WaveColor   string  `json:"waveColor"`
	CursorColor string  `json:"cursorColor"`

	// ProgressGradient lists colour stops from top to bottom of the
	// played portion.
	ProgressGradient []string `json:"progressGradient"`
}

// DefaultOptions returns the styling used for each variant: the master is
// drawn in gold, the mix in grey with a cyan progress fade.
func DefaultOptions(v Variant) Options {
	opts := Options{
		Variant:     v,
		Height:      80,
		BarWidth:    2,
		BarGap:      3,
		BarRadius:   2,
		Normalize:   true,
		Interactive: false,
		CursorColor: "transparent",
	}
	if v == Master {
		opts.WaveColor = "rgba(184, 134, 11, 0.4)"
		opts.ProgressGradient = []string{"#FFFFFF", "#FFD700", "#FF8C00"}
	} else {
		opts.WaveColor = "rgba(75, 85, 99, 0.5)"
		opts.ProgressGradient = []string{"#FFFFFF", "#00FFFF"}
	}
	return opts
}
