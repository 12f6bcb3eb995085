package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleBold  = lipgloss.NewStyle().Bold(true)
	styleDim   = lipgloss.NewStyle().Faint(true)
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))

	markOK   = styleOK.Render("✓")
	markWarn = styleWarn.Render("!")
	markFail = styleFail.Render("✗")
	markDot  = styleDim.Render("•")
)

func printBanner() {
	fmt.Printf("\n  %s %s\n\n", styleTitle.Render("VoiceClaw Bridge"), styleDim.Render("v"+Version))
}

// field prints one aligned "Label: value" line.
func field(label, value string) {
	fmt.Printf("  %-11s %s\n", label+":", value)
}

// setOrNot renders a configured/not-set marker.
func setOrNot(ok bool, yes, no string) string {
	if ok {
		return styleOK.Render(yes)
	}
	return styleWarn.Render(no)
}
