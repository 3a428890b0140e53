package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/raysh454/cropscan/internal/model"
)

func newScansCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "Inspect and manage the local scan history",
	}
	cmd.AddCommand(newScansListCmd(o))
	cmd.AddCommand(newScansDeleteCmd(o))
	return cmd
}

func newScansListCmd(o *options) *cobra.Command {
	var (
		unsynced bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			var scans []*model.ScanRecord
			if unsynced {
				scans, err = a.Store.GetUnsyncedScans(cmd.Context())
			} else {
				scans, err = a.Store.GetAllScans(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printScans(cmd.OutOrStdout(), scans, format)
		},
	}
	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "Only list scans waiting to be uploaded")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

func newScansDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scan from the local history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid scan id %q", args[0])
			}

			a, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Store.DeleteScan(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted scan %d\n", id)
			return nil
		},
	}
}

func printScans(w io.Writer, scans []*model.ScanRecord, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if scans == nil {
			scans = []*model.ScanRecord{}
		}
		return enc.Encode(scans)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Crop", "Diagnosis", "Confidence", "Captured", "Synced")
	for _, s := range scans {
		row := []string{
			strconv.FormatInt(s.ID, 10),
			s.CropName,
			s.DiseaseName,
			fmt.Sprintf("%.0f%%", s.ConfidencePercent()),
			s.Timestamp,
			strconv.FormatBool(s.IsSynced),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
