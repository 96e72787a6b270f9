package ui

import (
	"fmt"
	"os"

	"github.com/pkg/browser"
)

// HyperlinksMode controls hyperlink behavior
type HyperlinksMode int

const (
	HyperlinksAuto HyperlinksMode = iota
	HyperlinksOn
	HyperlinksOff
)

// CreateHyperlink creates a clickable hyperlink using ANSI escape sequences
// Falls back to plain text if hyperlinks are disabled
func CreateHyperlink(url, text string) string {
	return FormatLink(text, url, ShouldEnableHyperlinks(HyperlinksAuto))
}

// ShouldEnableHyperlinks resolves the mode against the environment
func ShouldEnableHyperlinks(mode HyperlinksMode) bool {
	switch mode {
	case HyperlinksOn:
		return true
	case HyperlinksOff:
		return false
	}
	if os.Getenv("PAYPIPE_NO_HYPERLINKS") == "1" || os.Getenv("TERM") == "dumb" || os.Getenv("CI") != "" {
		return false
	}
	return IsInteractive()
}

// IsInteractive returns true if running in an interactive terminal
func IsInteractive() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// OpenURL opens url in the default browser, printing it when that fails
func OpenURL(url string) error {
	if err := browser.OpenURL(url); err != nil {
		fmt.Printf("Open this link manually: %s\n", url)
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
