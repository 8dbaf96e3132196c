package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultReconcileFunction is the stored procedure that settles a loaded batch.
const DefaultReconcileFunction = "process_debit_batch"

var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidFunctionName reports whether name is a plain or schema-qualified identifier.
func ValidFunctionName(name string) bool {
	return functionName.MatchString(name)
}

// ProcedureReconciler delegates reconciliation to a database function that
// marks payers paid or unpaid and propagates status to their dependents.
type ProcedureReconciler struct {
	query string
}

// NewProcedureReconciler creates a reconciler calling the named function
func NewProcedureReconciler(function string) (*ProcedureReconciler, error) {
	if !ValidFunctionName(function) {
		return nil, fmt.Errorf("invalid reconciliation function name %q", function)
	}

	ident := pgx.Identifier(strings.Split(function, ".")).Sanitize()
	query := `SELECT total_processed, payers_marked_paid, payers_marked_unpaid,
		dependents_updated, errors FROM ` + ident + `($1)`

	return &ProcedureReconciler{query: query}, nil
}

// ProcessBatch runs the reconciliation for batchID on q, which must be the
// transaction that loaded the batch.
func (r *ProcedureReconciler) ProcessBatch(ctx context.Context, q Querier, batchID uuid.UUID) (*ReconciliationSummary, error) {
	var s ReconciliationSummary
	err := q.QueryRow(ctx, r.query, batchID).Scan(
		&s.TotalProcessed, &s.PayersMarkedPaid, &s.PayersMarkedUnpaid,
		&s.DependentsUpdated, &s.Errors,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to process batch %s: %w", batchID, err)
	}
	return &s, nil
}
