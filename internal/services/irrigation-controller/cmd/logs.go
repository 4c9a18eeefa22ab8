package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/gateway/app"
)

func (c *cli) logsCommand() *cobra.Command {
	var fieldID string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the watering log of a field from the configured log store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := c.settings
			if s.Store.Logs == "memory" {
				return errors.New("the memory log store lives inside the serving process; use GET /api/watering-logs")
			}
			influx := openInflux(s)
			if influx != nil {
				defer influx.Close()
			}
			var backend *app.Backend
			if s.Backend.URL != "" {
				backend = newBackend(s, nil)
			}
			store, closeStore, err := openLogStore(s, influx, backend, logging.ForService("logs"))
			if err != nil {
				return err
			}
			if closeStore != nil {
				defer closeStore()
			}

			entries, err := store.ListByField(cmd.Context(), fieldID)
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Start.After(entries[j].Start) })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tEND\tMINUTES\tMETHOD")
			loc := s.Location()
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					e.ID, e.Start.In(loc).Format(time.DateTime), e.End.In(loc).Format(time.DateTime), e.DurationMinutes, e.Method)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&fieldID, "field", "", "field id")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}
