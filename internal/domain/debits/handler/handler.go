// Package handler exposes the debit import pipeline over HTTP.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/parser"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/service"
)

// Service is the part of the import service the HTTP layer needs.
type Service interface {
	ImportBatch(ctx context.Context, data []byte, fileName string, actorID uuid.UUID) (*service.ImportResult, error)
	Preview(ctx context.Context, data []byte, fileName string) (*service.PreviewResult, error)
	ListBatches(ctx context.Context, filter repository.BatchFilter) ([]*repository.BatchSummary, int, error)
	GetBatchDetail(ctx context.Context, batchID uuid.UUID) (*repository.BatchDetail, error)
	ExportTransactionsCSV(ctx context.Context, batchID uuid.UUID, w io.Writer) error
}

// DebitsHandler serves the debit batch endpoints
type DebitsHandler struct {
	svc       Service
	maxUpload int64
	logger    *slog.Logger
}

// NewDebitsHandler creates a new debits handler
func NewDebitsHandler(svc Service, maxUpload int64, logger *slog.Logger) *DebitsHandler {
	return &DebitsHandler{svc: svc, maxUpload: maxUpload, logger: logger}
}

// RegisterRoutes mounts the handler on rg. Authentication is applied by the caller.
func (h *DebitsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/imports", h.Import)
	rg.POST("/imports/preview", h.Preview)
	rg.GET("/batches", h.ListBatches)
	rg.GET("/batches/:id", h.GetBatch)
	rg.GET("/batches/:id/transactions.csv", h.ExportTransactions)
}

// ListResponse is a page of batches.
type ListResponse struct {
	Batches []*repository.BatchSummary `json:"batches"`
	Total   int                        `json:"total"`
}

// Import loads an uploaded workbook as a new batch.
func (h *DebitsHandler) Import(c *gin.Context) {
	actor, ok := ActorFromContext(c)
	if !ok {
		failure(c, h.logger, http.StatusUnauthorized, "unauthenticated")
		return
	}

	data, fileName, ok := h.readUpload(c)
	if !ok {
		return
	}

	result, err := h.svc.ImportBatch(c.Request.Context(), data, fileName, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, result, "batch imported")
}

// Preview parses an uploaded workbook without importing it.
func (h *DebitsHandler) Preview(c *gin.Context) {
	data, fileName, ok := h.readUpload(c)
	if !ok {
		return
	}

	result, err := h.svc.Preview(c.Request.Context(), data, fileName)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, result, "")
}

// ListBatches returns batch headers filtered by month and year.
func (h *DebitsHandler) ListBatches(c *gin.Context) {
	var filter repository.BatchFilter

	month, err := optionalInt(c, "month")
	if err != nil || (month != nil && (*month < 1 || *month > 12)) {
		failure(c, h.logger, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}
	year, err := optionalInt(c, "year")
	if err != nil {
		failure(c, h.logger, http.StatusBadRequest, "year must be a number")
		return
	}
	limit, err := optionalInt(c, "limit")
	if err != nil {
		failure(c, h.logger, http.StatusBadRequest, "limit must be a number")
		return
	}
	offset, err := optionalInt(c, "offset")
	if err != nil {
		failure(c, h.logger, http.StatusBadRequest, "offset must be a number")
		return
	}

	filter.Month, filter.Year = month, year
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}

	batches, total, err := h.svc.ListBatches(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if batches == nil {
		batches = []*repository.BatchSummary{}
	}
	success(c, http.StatusOK, ListResponse{
		Batches: batches,
		Total:   total,
	}, "")
}

// GetBatch returns a batch with its transactions and statuses.
func (h *DebitsHandler) GetBatch(c *gin.Context) {
	id, ok := h.batchID(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetBatchDetail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, detail, "")
}

// ExportTransactions streams the transactions of a batch as CSV.
func (h *DebitsHandler) ExportTransactions(c *gin.Context) {
	id, ok := h.batchID(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.svc.ExportTransactionsCSV(c.Request.Context(), id, &buf); err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=batch_%s.csv", id))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *DebitsHandler) readUpload(c *gin.Context) ([]byte, string, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		failure(c, h.logger, http.StatusBadRequest, "multipart field \"file\" is required")
		return nil, "", false
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".xls" {
		failure(c, h.logger, http.StatusBadRequest, fmt.Sprintf("unsupported file extension: %s", ext))
		return nil, "", false
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		failure(c, h.logger, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", h.maxUpload))
		return nil, "", false
	}

	f, err := header.Open()
	if err != nil {
		failure(c, h.logger, http.StatusInternalServerError, "could not open uploaded file")
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		failure(c, h.logger, http.StatusInternalServerError, "could not read uploaded file")
		return nil, "", false
	}
	return data, filepath.Base(header.Filename), true
}

func (h *DebitsHandler) batchID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failure(c, h.logger, http.StatusBadRequest, "invalid batch id")
		return uuid.Nil, false
	}
	return id, true
}

// fail maps pipeline errors to HTTP statuses.
func (h *DebitsHandler) fail(c *gin.Context, err error) {
	var (
		schema *normalizer.SchemaError
		dates  *service.NoValidDatesError
		dup    *service.DuplicateImportError
		recon  *service.ReconciliationError
	)

	switch {
	case errors.As(err, &schema):
		failureWithData(c, h.logger, http.StatusUnprocessableEntity, schema.Error(), schema)
	case errors.As(err, &dates):
		failure(c, h.logger, http.StatusUnprocessableEntity, dates.Error())
	case errors.As(err, &dup):
		failureWithData(c, h.logger, http.StatusConflict, dup.Error(), dup)
	case errors.As(err, &recon):
		failure(c, h.logger, http.StatusBadGateway, "reconciliation failed, batch rolled back", recon.Err.Error())
	case errors.Is(err, parser.ErrUnreadableWorkbook):
		failure(c, h.logger, http.StatusBadRequest, "file is not a readable workbook", err.Error())
	case errors.Is(err, repository.ErrBatchNotFound):
		failure(c, h.logger, http.StatusNotFound, "batch not found")
	default:
		h.logger.Error("debits request failed", slog.Any("error", err))
		failure(c, h.logger, http.StatusInternalServerError, "internal error")
	}
}

func optionalInt(c *gin.Context, key string) (*int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
