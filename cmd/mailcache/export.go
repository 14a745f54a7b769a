package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pepperpark/mailcache/internal/mboxexport"
)

func newExportCmd(ro *rootOptions) *cobra.Command {
	var mailbox, folder, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a folder's cached envelopes to an mbox file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mailbox == "" {
				return fmt.Errorf("missing required flag: --mailbox")
			}
			a, err := openApp(ro)
			if err != nil {
				return err
			}
			defer a.close()

			var w io.Writer = os.Stdout
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			n, err := mboxexport.ExportFolder(cmd.Context(), a.store, mailbox, folder, w)
			if err != nil {
				return err
			}
			a.log.Info().Str("folder", folder).Int("messages", n).Str("out", out).Msg("export done")
			return nil
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Cache partition key (usually the account address)")
	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder to export")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output mbox path, - for stdout")
	return cmd
}
