package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Item to start with; empty keeps the queue's current item.
	ItemID string
	// Voice used when resuming conversion; empty keeps the item's voice.
	Voice string

	ShowText   bool    `env:"READALOUD_SHOW_TEXT"   envDefault:"true"`
	VolumeStep float64 `env:"READALOUD_VOLUME_STEP" envDefault:"0.1"`
	MaxWidth   int     `env:"READALOUD_MAX_WIDTH"   envDefault:"100"`

	// For debugging the UI
	AltScreen bool `env:"READALOUD_ALT_SCREEN" envDefault:"true"`
}
