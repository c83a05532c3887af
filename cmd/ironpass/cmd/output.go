package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dirColor     = color.New(color.FgBlue, color.Bold)
	mutedColor   = color.New(color.Faint)
	bannerColor  = color.New(color.FgBlue)
)

// colorize reports whether output should be colored.
func colorize() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return !color.NoColor
}

func paint(c *color.Color, s string) string {
	if !colorize() {
		return s
	}
	return c.Sprint(s)
}

func printSuccess(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.ErrOrStderr(), paint(successColor, fmt.Sprintf(format, args...)))
}

func printWarning(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.ErrOrStderr(), paint(warnColor, "warning: "+fmt.Sprintf(format, args...)))
}

func printError(cmd *cobra.Command, err error) {
	fmt.Fprintln(cmd.ErrOrStderr(), paint(errorColor, "error: "+err.Error()))
}

// startSpinner shows an activity spinner on stderr while a remote call runs.
// It does nothing unless stderr is a terminal.
func startSpinner(cmd *cobra.Command, suffix string) func() {
	f, ok := cmd.ErrOrStderr().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}
