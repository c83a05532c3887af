package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/store"
)

var (
	gitMessage    string
	gitCloneForce bool
)

var gitCmd = &cobra.Command{
	Use:   "git",
	Short: "Synchronize the store with its remote",
}

var gitCloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Replace the local store with the remote branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(s *session) error {
			m := s.store.Mirror()
			if m == nil {
				return store.ErrNoRemote
			}
			if n := len(m.Pending()); n > 0 && !gitCloneForce {
				return fmt.Errorf("%d uncommitted change(s) would be lost, commit them or use --force", n)
			}
			stop := startSpinner(cmd, "Fetching "+cfg.Remote.URL+"...")
			err := s.store.Clone(cmd.Context())
			stop()
			if err != nil {
				return err
			}
			printSuccess(cmd, "Cloned %s at %s", cfg.Remote.URL, shortSHA(m.LastKnownCommit()))
			return nil
		})
	},
}

var gitCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Push the staged changes as one commit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(s *session) error {
			stop := startSpinner(cmd, "Pushing to "+cfg.Remote.URL+"...")
			res, err := s.store.Commit(cmd.Context(), gitMessage)
			stop()
			if err != nil {
				return err
			}
			if res.NoOp {
				printWarning(cmd, "nothing to commit, remote is at %s", shortSHA(res.Commit))
				return nil
			}
			printSuccess(cmd, "Committed %s (%d file(s), %d uploaded)", shortSHA(res.Commit), res.Files, res.Uploaded)
			return nil
		})
	},
}

var gitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the staged changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(s *session) error {
			m := s.store.Mirror()
			if m == nil {
				return store.ErrNoRemote
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "On branch %s at %s\n", m.Branch(), shortSHA(m.LastKnownCommit()))
			for _, op := range m.Pending() {
				if op.Kind == mirror.OpMove {
					fmt.Fprintf(out, "  %-7s %s -> %s\n", op.Kind, op.From, op.Path)
					continue
				}
				fmt.Fprintf(out, "  %-7s %s\n", op.Kind, op.Path)
			}
			return nil
		})
	},
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	if sha == "" {
		return "(none)"
	}
	return sha
}

func init() {
	rootCmd.AddCommand(gitCmd)
	gitCmd.AddCommand(gitCloneCmd, gitCommitCmd, gitStatusCmd)
	gitCloneCmd.Flags().BoolVarP(&gitCloneForce, "force", "f", false, "discard uncommitted changes")
	gitCommitCmd.Flags().StringVarP(&gitMessage, "message", "m", "Update password store", "commit message")
}
