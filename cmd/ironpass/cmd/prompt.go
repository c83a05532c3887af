package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errPassphraseMismatch = errors.New("the entered passphrases do not match")

// terminalFd returns the descriptor of stdin when it is a terminal.
func terminalFd(cmd *cobra.Command) (int, bool) {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

// readSecret prompts for a line without echo on a terminal. Otherwise one
// line is read from stdin.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	if fd, ok := terminalFd(cmd); ok {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), err
	}
	return readLine()
}

// readNewSecret is readSecret with confirmation on a terminal.
func readNewSecret(cmd *cobra.Command, prompt, confirm string) (string, error) {
	first, err := readSecret(cmd, prompt)
	if err != nil {
		return "", err
	}
	if _, ok := terminalFd(cmd); !ok {
		return first, nil
	}
	second, err := readSecret(cmd, confirm)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPassphraseMismatch
	}
	return first, nil
}

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readAll() ([]byte, error) {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return b, nil
}
