package observ

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// NewLogger builds the server logger. stdout carries the protocol, so w is
// normally stderr. Terminals get colored text; anything else gets logfmt.
func NewLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	tty := isTerminal(w)
	formatter := log.LogfmtFormatter
	if tty {
		formatter = log.TextFormatter
	}
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "lsp",
		Level:           lvl,
		ReportTimestamp: true,
		Formatter:       formatter,
	})
	if tty {
		logger.SetStyles(levelStyles())
	}
	return logger, nil
}

func levelStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().SetString("DEBU").Foreground(lipgloss.Color("63"))
	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().SetString("INFO").Foreground(lipgloss.Color("86"))
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().SetString("WARN").Bold(true).Foreground(lipgloss.Color("214"))
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().SetString("ERRO").Bold(true).Foreground(lipgloss.Color("204"))
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	styles.Keys["module"] = lipgloss.NewStyle().Bold(true)
	return styles
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
