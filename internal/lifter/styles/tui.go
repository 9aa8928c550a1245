package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Styles used by the interactive block browser.
var (
	Title     = lipgloss.NewStyle().Foreground(charmtone.Charple).MarginLeft(2)
	Selected  = lipgloss.NewStyle().Foreground(charmtone.Dolly)
	Address   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Symbol    = lipgloss.NewStyle().Foreground(charmtone.Malibu)
	Invalid   = lipgloss.NewStyle().Foreground(charmtone.Cherry)
	Muted     = lipgloss.NewStyle().Foreground(charmtone.Squid)
	Spinner   = lipgloss.NewStyle().Foreground(charmtone.Dolly)
	StatusBar = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)
