package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdpnetwatch/pkg/model"
)

// targetsCmd 列出可附加的页面
func targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List page targets of the browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			id, err := a.svc.StartSession(ctx, model.SessionConfig{DevToolsURL: a.cfg.DevTools.URL})
			if err != nil {
				return err
			}
			defer func() { _ = a.svc.StopSession(id) }()

			targets, err := a.svc.ListTargets(ctx, id)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No page targets found.")
				return nil
			}
			for _, t := range targets {
				marker := " "
				if !t.IsUser {
					marker = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s  %s\n", marker, t.ID, t.Title, t.URL)
			}
			return nil
		},
	}
}
