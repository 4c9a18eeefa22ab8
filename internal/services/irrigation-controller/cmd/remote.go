package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/device"
)

func (c *cli) dial(cmd *cobra.Command) (*device.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = c.settings.GRPC.Addr
	}
	return device.Dial(addr, 10*time.Second)
}

func addrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "scheduler gRPC address (default from config)")
}

func printEvents(w io.Writer, events []device.EventSummary) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%-20s %-6s %-9s %s\n", ev.Type, ev.FieldID, ev.Severity, ev.Message)
	}
}

func (c *cli) tickCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one evaluation cycle on a running scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			events, err := client.Tick(cmd.Context())
			printEvents(cmd.OutOrStdout(), events)
			return err
		},
	}
	addrFlag(cmd)
	return cmd
}

func (c *cli) valveCommand() *cobra.Command {
	var fieldID, mode string
	cmd := &cobra.Command{
		Use:   "valve",
		Short: "Request a manual valve mode for a field",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := entities.ParseValveMode(mode)
			if err != nil {
				return err
			}
			client, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			f, err := client.SetValve(cmd.Context(), fieldID, m)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "field %s valve %s\n", f.ID, f.ValveMode)
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldID, "field", "", "field id")
	cmd.Flags().StringVar(&mode, "mode", "", "on, off or auto")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("mode")
	addrFlag(cmd)
	return cmd
}

func (c *cli) scheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Set or cancel a field schedule, or the global one when --field is omitted",
	}

	var fieldID, start, end string
	var disabled bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Install a schedule window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := entities.ParseTimeOfDay(start)
			if err != nil {
				return err
			}
			en, err := entities.ParseTimeOfDay(end)
			if err != nil {
				return err
			}
			sched, err := entities.NewSchedule(st, en, !disabled)
			if err != nil {
				return err
			}
			client, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			events, err := client.SetSchedule(cmd.Context(), fieldID, sched)
			printEvents(cmd.OutOrStdout(), events)
			return err
		},
	}
	set.Flags().StringVar(&fieldID, "field", "", "field id, empty for the global schedule")
	set.Flags().StringVar(&start, "start", "", "window start HH:MM")
	set.Flags().StringVar(&end, "end", "", "window end HH:MM")
	set.Flags().BoolVar(&disabled, "disabled", false, "store the window without enabling it")
	_ = set.MarkFlagRequired("start")
	_ = set.MarkFlagRequired("end")
	addrFlag(set)

	var cancelField string
	cancel := &cobra.Command{
		Use:   "cancel",
		Short: "Disable a schedule, keeping its times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			events, err := client.CancelSchedule(cmd.Context(), cancelField)
			printEvents(cmd.OutOrStdout(), events)
			return err
		},
	}
	cancel.Flags().StringVar(&cancelField, "field", "", "field id, empty for the global schedule")
	addrFlag(cancel)

	cmd.AddCommand(set, cancel)
	return cmd
}
