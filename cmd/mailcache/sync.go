package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pepperpark/mailcache/internal/imapwire"
	"github.com/pepperpark/mailcache/internal/syncer"
)

// sync command options
type syncOptions struct {
	host        string
	port        int
	useTLS      bool
	user        string
	pass        string
	passPrompt  bool
	mailbox     string
	folders     []string
	all         bool
	ignoreState bool
	insecure    bool
	jsonOut     bool
	noTUI       bool
}

type ctxKey struct{}

func newSyncCmd(ro *rootOptions) *cobra.Command {
	o := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync folder envelopes from an IMAP server into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, ro)
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&o.host, "host", "", "IMAP host")
	cmd.Flags().IntVar(&o.port, "port", imapwire.DefaultPort, "IMAP port (993 and 995 use implicit TLS)")
	cmd.Flags().BoolVar(&o.useTLS, "tls", false, "Force implicit TLS on a non-standard port")
	cmd.Flags().StringVar(&o.user, "user", "", "IMAP username")
	cmd.Flags().StringVar(&o.pass, "pass", "", "IMAP password")
	cmd.Flags().BoolVar(&o.passPrompt, "pass-prompt", false, "Prompt for IMAP password (no echo)")
	cmd.Flags().StringVar(&o.mailbox, "mailbox", "", "Cache partition key (default: --user)")
	cmd.Flags().StringSliceVar(&o.folders, "folders", nil, "Folders to sync (default from config)")
	cmd.Flags().BoolVar(&o.all, "all", false, "Sync every selectable folder on the server")
	cmd.Flags().BoolVar(&o.ignoreState, "ignore-state", false, "Ignore stored cursors and re-read every message")
	cmd.Flags().BoolVar(&o.insecure, "insecure", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&o.noTUI, "no-tui", false, "Never show the progress UI")

	// Bind into context
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if o.all && len(o.folders) > 0 {
			return fmt.Errorf("--all and --folders are mutually exclusive")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, o))
		return nil
	}
	return cmd
}

func runSync(cmd *cobra.Command, ro *rootOptions) error {
	o := cmd.Context().Value(ctxKey{}).(*syncOptions)

	// Prompt password if requested
	if o.passPrompt && o.pass == "" {
		fmt.Fprint(os.Stderr, "IMAP password: ")
		b, perr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if perr != nil {
			return fmt.Errorf("read password: %w", perr)
		}
		o.pass = string(b)
	}
	if o.host == "" || o.user == "" || o.pass == "" {
		return fmt.Errorf("missing required flags: --host, --user, --pass (or --pass-prompt)")
	}
	if o.mailbox == "" {
		o.mailbox = o.user
	}

	a, err := openApp(ro)
	if err != nil {
		return err
	}
	defer a.close()

	useTUI := !o.jsonOut && !o.noTUI && term.IsTerminal(int(os.Stdout.Fd()))
	log := a.log
	var events chan syncer.Event
	if useTUI {
		// Log lines would tear the UI; the report lists folder errors.
		log = zerolog.Nop()
		events = make(chan syncer.Event, 128)
	}
	sy := a.newSyncer(log, o.insecure, syncer.Options{
		IgnoreState: o.ignoreState,
		Events:      events,
	})

	sel := syncer.Folders(o.folders...)
	if o.all {
		sel = syncer.AllFolders()
	}
	req := syncer.Request{
		Endpoint: imapwire.Endpoint{Host: o.host, Port: o.port, UseTLS: o.useTLS},
		User:     o.user,
		Pass:     o.pass,
		Mailbox:  o.mailbox,
		Folders:  sel,
	}

	ctx := cmd.Context()
	var rep *syncer.Report
	if useTUI {
		rep, err = runTUI(ctx, sy, req, events)
	} else {
		rep, err = sy.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	if o.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, rep)
	}
	if failed := rep.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d folder(s) failed", len(failed), len(rep.Folders))
	}
	return nil
}

func printReport(w io.Writer, rep *syncer.Report) {
	fmt.Fprintf(w, "Synced %d message(s) in %s\n", rep.TotalSynced, rep.FinishedAt.Sub(rep.StartedAt).Round(10*time.Millisecond))
	for _, f := range rep.Folders {
		if f.Status == syncer.StatusSuccess {
			fmt.Fprintf(w, "  %-30s %6d\n", f.Folder, f.Synced)
			continue
		}
		fmt.Fprintf(w, "  %-30s %6d  error: %s\n", f.Folder, f.Synced, f.Error)
	}
}
