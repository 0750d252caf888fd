package ui

import (
	"github.com/bookvoice/bookvoice/internal/ttypes"
)

// Config contains TUI-specific configuration.
type Config struct {
	// Book being read
	BookID string
	Title  string
	Author string
	Lang   string

	// StartLine is where the cursor begins, usually restored progress
	StartLine int

	// PageSize is how many lines are requested per load
	PageSize int

	Rate   float64
	Voice  *ttypes.VoiceOption
	Voices []ttypes.VoiceOption

	ShowLineNumbers bool `env:"BOOKVOICE_LINE_NUMBERS"`
	Autoplay        bool `env:"BOOKVOICE_AUTOPLAY"`
	EnableMouse     bool `env:"BOOKVOICE_MOUSE"`
	MaxWidth        uint `env:"BOOKVOICE_WIDTH" envDefault:"100"`
}
