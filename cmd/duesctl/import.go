package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/service"
)

func newImportCommand(a *app) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "import <workbook>",
		Short: "Import a debit workbook as a new batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := uuid.Parse(actor)
			if err != nil {
				return fmt.Errorf("--actor must be a user id: %w", err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading workbook: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.svc.ImportBatch(cmd.Context(), data, filepath.Base(args[0]), actorID)
			if err != nil {
				var dup *service.DuplicateImportError
				if errors.As(err, &dup) {
					fmt.Fprintln(cmd.ErrOrStderr(), dup.Error())
				}
				return err
			}
			printImport(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "id of the user performing the import (required)")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func newPreviewCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <workbook>",
		Short: "Parse a workbook and show what an import would load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading workbook: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.svc.Preview(cmd.Context(), data, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			printPreview(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printImport(w io.Writer, r *service.ImportResult) {
	fmt.Fprintf(w, "batch %s\n", r.Batch.ID)
	fmt.Fprintf(w, "period     %02d/%d\n", r.Period.Month, r.Period.Year)
	fmt.Fprintf(w, "rows       %d loaded, %d failed\n", r.Succeeded, r.Failed)
	fmt.Fprintf(w, "collected  %s\n", r.TotalCollected.Display())
	if rec := r.Reconciliation; rec != nil {
		fmt.Fprintf(w, "reconciled %d processed, %d paid, %d unpaid, %d dependents\n",
			rec.TotalProcessed, rec.PayersMarkedPaid, rec.PayersMarkedUnpaid, rec.DependentsUpdated)
	}

	if len(r.RowFailures) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tACCOUNT\tREASON")
	for _, f := range r.RowFailures {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.SourceRow, f.ExternalAccountCode, f.Reason)
	}
	tw.Flush()
}

func printPreview(w io.Writer, r *service.PreviewResult) {
	fmt.Fprintf(w, "file       %s (%s, sheet %q)\n", r.SourceFileName, r.Format, r.SheetName)
	fmt.Fprintf(w, "rows       %d (%d undated)\n", r.RowCount, r.Undated)
	fmt.Fprintf(w, "period     %02d/%d\n", r.Period.Month, r.Period.Year)
	fmt.Fprintf(w, "hash       %s\n", r.ContentHash)
	if r.Duplicate != nil {
		fmt.Fprintf(w, "duplicate  %s\n", r.Duplicate.Error())
	}
}
