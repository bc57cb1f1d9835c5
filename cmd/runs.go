package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/admission"
	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage lead-generation runs",
	Long:  "Commands for creating, starting, stopping, and inspecting lead-generation runs.",
}

// -- runs create --

var runsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a new run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		city, _ := cmd.Flags().GetString("city")
		state, _ := cmd.Flags().GetString("state")
		radius, _ := cmd.Flags().GetInt("radius")
		maxLeads, _ := cmd.Flags().GetInt("max-leads")
		industries, _ := cmd.Flags().GetStringSlice("industry")

		run, err := env.Orchestrator.Create(ctx, model.RunParams{
			City:        city,
			State:       state,
			RadiusMiles: radius,
			MaxLeads:    maxLeads,
			Industries:  industries,
		})
		if err != nil {
			var de *admission.DeniedError
			if errors.As(err, &de) {
				return fmt.Errorf("%d of %d runs already active, wait for some to finish", de.Active, de.Max)
			}
			return err
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		if status != "" && !model.RunStatus(status).Valid() {
			return eris.Errorf("runs list: invalid status %q", status)
		}

		runs, err := env.Orchestrator.List(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs start --

var runsStartCmd = &cobra.Command{
	Use:   "start <run-id>",
	Short: "Dispatch a queued run to the scraping worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Start(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs start")
		}
		if run.Status == model.RunStatusQueued {
			fmt.Fprintf(os.Stderr, "Dispatch failed, run requeued: %s\n", run.Progress.Message)
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs stop --

var runsStopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a queued or running run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Stop(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs stop")
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs stop-all --

var runsStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every queued and running run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Orchestrator.StopAll(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stop-all")
		}
		fmt.Fprintf(os.Stderr, "Stopped %d run(s).\n", len(runs))
		if len(runs) > 0 {
			formatRunsList(os.Stdout, runs)
		}
		return nil
	},
}

// -- runs delete --

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.DeleteRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "runs delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted run %s.\n", args[0])
		return nil
	},
}

// -- runs leads --

var runsLeadsCmd = &cobra.Command{
	Use:   "leads <run-id>",
	Short: "List a run's leads, best first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, err := env.Orchestrator.Leads(ctx, args[0], store.LeadFilter{
			MinConfidence: minConf,
			Limit:         limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs leads")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- runs ingest --

var runsIngestCmd = &cobra.Command{
	Use:   "ingest <run-id>",
	Short: "Ingest a worker lead dump (CSV or XLSX) into a running run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		raws, err := readLeadFile(path)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orchestrator.IngestLeads(ctx, args[0], raws)
		if err != nil {
			return eris.Wrap(err, "runs ingest")
		}
		fmt.Fprintf(os.Stderr, "Inserted %d of %d lead(s).\n", n, len(raws))

		complete, _ := cmd.Flags().GetBool("complete")
		if !complete {
			return nil
		}
		run, err := env.Orchestrator.Complete(ctx, args[0], "")
		if err != nil {
			return eris.Wrap(err, "runs ingest: complete")
		}
		return printJSON(os.Stdout, run)
	},
}

func init() {
	runsCreateCmd.Flags().String("city", "", "city to search")
	runsCreateCmd.Flags().String("state", "", "two-letter state code")
	runsCreateCmd.Flags().Int("radius", 25, "search radius in miles")
	runsCreateCmd.Flags().Int("max-leads", 100, "maximum number of leads to collect")
	runsCreateCmd.Flags().StringSlice("industry", nil, "industry key or label (repeatable)")
	_ = runsCreateCmd.MarkFlagRequired("city")
	_ = runsCreateCmd.MarkFlagRequired("state")
	_ = runsCreateCmd.MarkFlagRequired("industry")

	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, done, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsLeadsCmd.Flags().Float64("min-confidence", 0, "hide leads below this confidence")
	runsLeadsCmd.Flags().Int("limit", 100, "max number of leads to display")

	runsIngestCmd.Flags().String("file", "", "CSV or XLSX lead dump")
	runsIngestCmd.Flags().Bool("complete", false, "mark the run done after ingesting")
	_ = runsIngestCmd.MarkFlagRequired("file")

	runsCmd.AddCommand(runsCreateCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStartCmd)
	runsCmd.AddCommand(runsStopCmd)
	runsCmd.AddCommand(runsStopAllCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsLeadsCmd)
	runsCmd.AddCommand(runsIngestCmd)
	rootCmd.AddCommand(runsCmd)
}

// readLeadFile decodes a lead dump, picking the format from the extension.
func readLeadFile(path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open lead file")
	}
	defer f.Close() //nolint:errcheck

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return export.ReadCSV(f)
	case ".xlsx":
		return export.ReadXLSX(f)
	default:
		return nil, eris.Errorf("unsupported lead file %q: want .csv or .xlsx", path)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLOCATION\tSTATUS\tLEADS\tMESSAGE\tCREATED\tAGE")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-----\t-------\t-------\t---")

	for _, r := range runs {
		location := fmt.Sprintf("%s, %s (%dmi)", r.City, r.State, r.RadiusMiles)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(location, 30),
			r.Status,
			r.Progress.Total,
			r.MaxLeads,
			truncate(r.Progress.Message, 40),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second),
		)
	}
	_ = w.Flush()
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBUSINESS\tINDUSTRY\tPHONE\tDISTANCE\tCONFIDENCE")
	_, _ = fmt.Fprintln(w, "--\t--------\t--------\t-----\t--------\t----------")

	for _, l := range leads {
		dist := "-"
		if l.DistanceMiles != nil {
			dist = fmt.Sprintf("%.1fmi", *l.DistanceMiles)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			truncateID(l.ID),
			truncate(l.BusinessName, 30),
			l.Industry,
			l.Phone,
			dist,
			l.Confidence,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
