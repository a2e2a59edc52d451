package domain

type FingerprintAttributes struct {
	ClientName     string
	ClientVersion  string
	Launcher       string
	Locale         string
	ViewDistance   int
	RenderDistance int
	// EntityDistance is a percentage in [0,100].
	EntityDistance int
	// MaxFPS of zero means unlimited.
	MaxFPS int
}

func (f FingerprintAttributes) HighFrameRate() bool {
	return f.MaxFPS == 0 || f.MaxFPS >= 120
}
