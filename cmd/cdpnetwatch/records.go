package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// recordsCmd 查看已记录的请求
func recordsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Show recently recorded requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			if a.db == nil {
				return fmt.Errorf("recording is disabled")
			}

			list, err := a.svc.ListRecords(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMETHOD\tSTATUS\tTYPE\tURL")
			for _, r := range list {
				status := fmt.Sprint(r.Status)
				switch {
				case r.Failed:
					status = r.FailureText
				case r.FromCache:
					status += " (cache)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Format("15:04:05.000"), r.Method, status, r.ResourceType, r.URL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of records, 0 for all")
	return cmd
}
