package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the different parts of a run.
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Best      *color.Color
	Regressed *color.Color
	Dim       *color.Color
	Success   *color.Color
	Error     *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Label:     color.New(color.FgBlue),
		Value:     color.New(color.FgWhite, color.Bold),
		Best:      color.New(color.FgGreen, color.Bold),
		Regressed: color.New(color.FgYellow),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen),
		Error:     color.New(color.FgRed, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Label, scheme.Value, scheme.Best,
		scheme.Regressed, scheme.Dim, scheme.Success, scheme.Error,
	} {
		c.DisableColor()
	}
	return scheme
}

// SuccessIcon returns a checkmark symbol with appropriate color.
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color.
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
