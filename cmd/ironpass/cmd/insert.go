package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	insertForce     bool
	insertMultiline bool
)

var insertCmd = &cobra.Command{
	Use:   "insert path",
	Short: "Insert a new password",
	Long: `Encrypts a password to the recipients of its directory. On a terminal the
password is prompted for twice; otherwise the first line of stdin is used, or
all of it with --multiline.`,
	Args: requireArgs(1, "path"),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		content, err := readContent(cmd, path)
		if err != nil {
			return err
		}
		return withSession(cmd, true, func(s *session) error {
			p, err := s.store.Insert(cmd.Context(), path, content, insertForce)
			if err != nil {
				return err
			}
			printSuccess(cmd, "Added %s", p.Path())
			return nil
		})
	},
}

func readContent(cmd *cobra.Command, path string) ([]byte, error) {
	if insertMultiline {
		if _, ok := terminalFd(cmd); ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter contents of %s and press Ctrl+D when finished:\n", path)
		}
		return readAll()
	}
	pass, err := readNewSecret(cmd,
		fmt.Sprintf("Enter password for %s: ", path),
		fmt.Sprintf("Retype password for %s: ", path))
	if err != nil {
		return nil, err
	}
	return []byte(pass), nil
}

func init() {
	rootCmd.AddCommand(insertCmd)
	insertCmd.Flags().BoolVarP(&insertForce, "force", "f", false, "overwrite an existing password")
	insertCmd.Flags().BoolVarP(&insertMultiline, "multiline", "m", false, "read the whole of stdin")
}
