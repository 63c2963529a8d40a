package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/travofoz/cdp-ninja-sub000/interfaces/go/client"
)

func newStatusCmd() *cobra.Command {
	var server string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show domain status of a running bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server)
			c.Caller = "cli"
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "max risk: %s\n", st.MaxRiskLevel)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tRISK\tSTATE\tHOLDERS\tLAST USED")
			for _, d := range st.Domains {
				last := "-"
				if d.LastUsed != nil {
					last = d.LastUsed.Local().Format(time.TimeOnly)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.Domain, d.Risk, d.State, len(d.EnabledBy), last)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:9092", "bridge base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}
