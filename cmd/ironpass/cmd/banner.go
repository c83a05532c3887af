package cmd

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

func printBanner(w io.Writer) {
	fmt.Fprintln(w, paint(bannerColor, figure.NewFigure("ironpass", "standard", true).String()))
	fmt.Fprintln(w, paint(successColor, fmt.Sprintf("  Encrypted password store - Version %s", Version)))
	fmt.Fprintln(w)
}
