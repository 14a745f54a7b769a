package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pepperpark/mailcache/internal/state"
)

type folderStatus struct {
	state.Cursor
	Cached int `json:"cached"`
}

func newStatusCmd(ro *rootOptions) *cobra.Command {
	var mailbox string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync cursors and cached message counts for a mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mailbox == "" {
				return fmt.Errorf("missing required flag: --mailbox")
			}
			a, err := openApp(ro)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			cursors, err := a.store.ListCursors(ctx, mailbox)
			if err != nil {
				return err
			}
			rows := make([]folderStatus, 0, len(cursors))
			for _, c := range cursors {
				msgs, err := a.store.ListMessages(ctx, mailbox, c.Folder)
				if err != nil {
					return err
				}
				rows = append(rows, folderStatus{Cursor: c, Cached: len(msgs)})
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			printStatus(os.Stdout, mailbox, rows)
			return nil
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Cache partition key (usually the account address)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func printStatus(w io.Writer, mailbox string, rows []folderStatus) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render(mailbox)
	fmt.Fprintln(w, title)
	if len(rows) == 0 {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("No folders synced yet."))
		return
	}
	fmt.Fprintf(w, "  %-30s %12s %10s %8s  %s\n", "FOLDER", "UIDVALIDITY", "UIDNEXT", "CACHED", "LAST SYNC")
	for _, r := range rows {
		fmt.Fprintf(w, "  %-30s %12d %10d %8d  %s\n",
			r.Folder, r.UIDValidity, r.UIDNext, r.Cached, r.LastSyncedAt.Local().Format(time.DateTime))
	}
}
