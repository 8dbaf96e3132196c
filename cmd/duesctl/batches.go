package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
	"github.com/FACorreiaa/benefactor-dues/pkg/money"
)

func newBatchesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect imported batches",
	}
	cmd.AddCommand(newBatchesListCommand(a), newBatchesShowCommand(a), newBatchesExportCommand(a))
	return cmd
}

func newBatchesListCommand(a *app) *cobra.Command {
	var month, year, limit, offset int
	var currency string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.BatchFilter{Limit: limit, Offset: offset}
			if cmd.Flags().Changed("month") {
				if month < 1 || month > 12 {
					return fmt.Errorf("--month must be between 1 and 12")
				}
				filter.Month = &month
			}
			if cmd.Flags().Changed("year") {
				filter.Year = &year
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			batches, total, err := s.svc.ListBatches(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printBatches(cmd.OutOrStdout(), batches, total, currency)
			return nil
		},
	}

	cmd.Flags().IntVar(&month, "month", 0, "billing month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "billing year")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum batches to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "batches to skip")
	cmd.Flags().StringVar(&currency, "currency", money.USD, "currency used to display totals")

	return cmd
}

func newBatchesShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch with its transactions and resulting statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			detail, err := s.svc.GetBatchDetail(cmd.Context(), id)
			if err != nil {
				return err
			}
			printDetail(cmd.OutOrStdout(), detail)
			return nil
		},
	}
}

func newBatchesExportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Write the transactions of a batch as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return s.svc.ExportTransactionsCSV(cmd.Context(), id, w)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "file to write, - for stdout")
	return cmd
}

func printBatches(w io.Writer, batches []*repository.BatchSummary, total int, currency string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPERIOD\tFILE\tROWS\tLOADED\tFAILED\tTOTAL\tIMPORTED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%02d/%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			b.ID, b.Month, b.Year, b.SourceFileName,
			b.TotalRows, b.SucceededRows, b.FailedRows,
			money.NewFromDecimal(b.TotalAmount, currency).Display(),
			b.ImportedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d batches\n", len(batches), total)
}

func printDetail(w io.Writer, d *repository.BatchDetail) {
	b := d.Batch
	fmt.Fprintf(w, "batch %s\n", b.ID)
	fmt.Fprintf(w, "file       %s\n", b.SourceFileName)
	fmt.Fprintf(w, "period     %02d/%d\n", b.Month, b.Year)
	fmt.Fprintf(w, "rows       %d total, %d loaded, %d failed\n", b.TotalRows, b.SucceededRows, b.FailedRows)
	fmt.Fprintf(w, "imported   %s by %s\n", b.ImportedAt.Local().Format(time.DateTime), b.ImportedBy)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tACCOUNT\tNAME\tSTATUS\tAMOUNT")
	for _, t := range d.Transactions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s %s\n",
			t.SourceRow, t.ExternalAccountCode, t.AccountName, t.RawStatus,
			t.Amount.StringFixed(2), t.Currency)
	}
	tw.Flush()

	if len(d.Statuses) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tSTATUS\tHEAD")
	for _, st := range d.Statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", st.AccountID, st.AccountName, st.Status, st.IsHead)
	}
	tw.Flush()
}
