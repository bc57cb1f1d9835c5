package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's leads as CSV or XLSX",
	Long:  "Writes the run's leads to a local file, or with --upload stores them in object storage and prints a presigned download link.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		upload, _ := cmd.Flags().GetBool("upload")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		run, leads, err := env.Orchestrator.Snapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		data, err := export.Render(format, leads)
		if err != nil {
			return err
		}

		if upload {
			up, err := export.NewMinIOUploader(cfg.Export)
			if err != nil {
				return err
			}
			res, err := up.Upload(ctx, run.ID, format, data)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		}

		if out == "" {
			out = format.Filename(run.ID)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return eris.Wrapf(err, "export: write %s", out)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d lead(s) to %s\n", len(leads), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "export format (csv or xlsx)")
	exportCmd.Flags().String("out", "", "output path (default leads-<run-id>.<format>)")
	exportCmd.Flags().Bool("upload", false, "upload to object storage and print a presigned link")
	rootCmd.AddCommand(exportCmd)
}
