package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/tree"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List passwords as a tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}
		return withSession(cmd, false, func(s *session) error {
			dir, err := s.store.Directory(path)
			if err != nil {
				return err
			}
			title := "Password Store"
			if !dir.IsRoot() {
				title = dir.Path()
			}
			fmt.Fprintln(cmd.OutOrStdout(), title)
			renderTree(cmd.OutOrStdout(), dir, "")
			return nil
		})
	},
}

// renderTree prints the children of dir, directories first.
func renderTree(w io.Writer, dir *tree.Directory, prefix string) {
	dirs := dir.Directories()
	passwords := dir.Passwords()
	total := len(dirs) + len(passwords)
	i := 0
	branch := func() (string, string) {
		i++
		if i == total {
			return "└── ", "    "
		}
		return "├── ", "│   "
	}
	for _, d := range dirs {
		head, indent := branch()
		fmt.Fprintln(w, prefix+head+paint(dirColor, d.Name()))
		renderTree(w, d, prefix+indent)
	}
	for _, p := range passwords {
		head, _ := branch()
		fmt.Fprintln(w, prefix+head+p.Name())
	}
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
