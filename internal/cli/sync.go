package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/raysh454/cropscan/internal/syncer"
)

// ErrSyncBusy is returned when another pass holds the coordinator.
var ErrSyncBusy = errors.New("a sync pass is already running")

func newSyncCmd(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload every pending scan once and exit",
		Long: `Run a single sync pass: every scan not yet uploaded is sent to the
diagnosis service in creation order. Scans that fail stay pending for the
next pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			report, ran := a.Syncer.SyncNow(cmd.Context())
			if !ran {
				return ErrSyncBusy
			}
			if err := printReport(cmd.OutOrStdout(), report, format); err != nil {
				return err
			}
			if report.Error != "" {
				return fmt.Errorf("sync pass aborted: %s", report.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

func printReport(w io.Writer, r *syncer.PassReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Pass", "Total", "Synced", "Failed", "Duration")
	if err := table.Append([]string{
		r.ID,
		strconv.Itoa(r.Total),
		strconv.Itoa(r.Synced),
		strconv.Itoa(r.Failed),
		r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	}); err != nil {
		return err
	}
	return table.Render()
}
