package main

import (
	"github.com/spf13/cobra"

	"github.com/pepperpark/mailcache/internal/httpapi"
	"github.com/pepperpark/mailcache/internal/syncer"
)

func newServeCmd(ro *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync endpoint and cache reads over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(ro)
			if err != nil {
				return err
			}
			defer a.close()
			if listen != "" {
				a.cfg.Listen = listen
			}
			// One lock table for every request against this store.
			sy := a.newSyncer(a.log, false, syncer.Options{Locks: &syncer.FolderLocks{}})
			h := httpapi.New(sy, a.store, a.log, a.redact).Handler()
			return httpapi.ListenAndServe(cmd.Context(), a.cfg.Listen, h, a.log)
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}
