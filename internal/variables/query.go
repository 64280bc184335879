package variables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

const (
	defaultPageSize = 100
	// MaxRowChunk is the most rows one GetDataFrameRows call may request
	MaxRowChunk = 100
	// maxCellsPerEvaluate bounds the payload of a single rows evaluation
	maxCellsPerEvaluate = 100
)

// ChunkSizeError is returned when a row range exceeds MaxRowChunk
type ChunkSizeError struct {
	Requested int
}

func (e *ChunkSizeError) Error() string {
	return fmt.Sprintf("debugger cannot provide more than %d rows at a time (requested %d)", MaxRowChunk, e.Requested)
}

// GetVariables returns one page of the sorted snapshot, hydrating truncated
// entries. Hydrated records are written back only while the snapshot they
// came from is still current.
func (b *Bridge) GetVariables(ctx context.Context, req domain.VariablesRequest) (domain.VariablesResponse, error) {
	resp := domain.VariablesResponse{
		ExecutionCount: req.ExecutionCount,
		RefreshCount:   req.RefreshCount,
		PageResponse:   []domain.VariableRecord{},
	}

	b.mu.Lock()
	if !b.active || b.session == nil {
		b.mu.Unlock()
		return resp, nil
	}
	snapshot := append([]domain.VariableRecord(nil), b.variables...)
	gen := b.generation
	b.mu.Unlock()

	start := max(req.StartIndex, 0)
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	resp.PageStartIndex = start
	resp.TotalCount = len(snapshot)

	order := sortedOrder(snapshot, req.SortColumn, req.SortAscending)
	end := min(start+size, len(order))
	for pos := start; pos < end; pos++ {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		i := order[pos]
		v := snapshot[i]
		if v.Truncated {
			v = b.hydrate(ctx, gen, i, v)
		}
		resp.PageResponse = append(resp.PageResponse, v)
	}
	return resp, nil
}

// hydrate fetches the full record for snapshot entry i once per generation
func (b *Bridge) hydrate(ctx context.Context, gen uint64, i int, v domain.VariableRecord) domain.VariableRecord {
	key := fmt.Sprintf("hydrate:%d:%d", gen, i)
	val, _, _ := b.flights.Do(key, func() (any, error) {
		full, err := b.GetFullVariable(ctx, v)
		if err != nil {
			b.logger.Debug("variable hydration failed", zap.String("name", v.Name), zap.Error(err))
			return v, nil
		}
		b.mu.Lock()
		if b.generation == gen && i < len(b.variables) && b.variables[i].Name == v.Name {
			b.variables[i] = full
		}
		b.mu.Unlock()
		return full, nil
	})
	return val.(domain.VariableRecord)
}

// GetFullVariable evaluates the variable-info helper for v. Failures other
// than an inactive debugger return v unchanged.
func (b *Bridge) GetFullVariable(ctx context.Context, v domain.VariableRecord) (domain.VariableRecord, error) {
	if err := b.ensureImported(ctx, "variable_info", variableInfoScript, b.importedVar, v.FrameID); err != nil {
		if errors.Is(err, ErrDebuggerInactive) {
			return v, err
		}
		b.logger.Debug("variable info helper not injected", zap.Error(err))
		return v, nil
	}

	result, err := b.evaluate(ctx, fmt.Sprintf("%s(%s)", variableInfoFunc, v.Name), v.FrameID)
	if err != nil {
		if errors.Is(err, ErrDebuggerInactive) {
			return v, err
		}
		b.logger.Debug("variable info evaluation failed", zap.String("name", v.Name), zap.Error(err))
		return v, nil
	}

	var info struct {
		Shape string `json:"shape"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(result), &info); err != nil {
		b.logger.Debug("bad variable info", zap.String("name", v.Name), zap.Error(err))
		return v, nil
	}
	v.Shape = info.Shape
	v.Count = info.Count
	v.Truncated = false
	return v, nil
}

// GetMatchingVariable looks name up in the current snapshot
func (b *Bridge) GetMatchingVariable(name string) (domain.VariableRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return domain.VariableRecord{}, false
	}
	return lo.Find(b.variables, func(v domain.VariableRecord) bool { return v.Name == name })
}

// GetDataFrameInfo fills the columns and row count of a data-frame-like variable
func (b *Bridge) GetDataFrameInfo(ctx context.Context, v domain.VariableRecord, sliceExpr string) (domain.VariableRecord, error) {
	if !b.Active() {
		return v, ErrDebuggerInactive
	}
	if err := b.ensureImported(ctx, "dataframe", dataFrameScript, b.importedDF, v.FrameID); err != nil {
		return v, err
	}

	result, err := b.evaluate(ctx, fmt.Sprintf("%s(%s)", dataFrameInfoFunc, v.Name+sliceExpr), v.FrameID)
	if err != nil {
		return v, err
	}
	var info struct {
		Columns     []domain.DataFrameColumn `json:"columns"`
		RowCount    int                      `json:"rowCount"`
		IndexColumn string                   `json:"indexColumn"`
		Shape       string                   `json:"shape"`
	}
	if err := json.Unmarshal([]byte(result), &info); err != nil {
		return v, fmt.Errorf("decode data frame info for %s: %w", v.Name, err)
	}
	v.Columns = info.Columns
	v.RowCount = info.RowCount
	v.IndexColumn = info.IndexColumn
	if info.Shape != "" {
		v.Shape = info.Shape
	}
	return v, nil
}

// GetDataFrameRows returns rows [start, end) of a data-frame-like variable.
// Ranges wider than MaxRowChunk are rejected, never truncated.
func (b *Bridge) GetDataFrameRows(ctx context.Context, v domain.VariableRecord, start, end int, sliceExpr string) ([]map[string]any, error) {
	if end-start > MaxRowChunk {
		return nil, &ChunkSizeError{Requested: end - start}
	}
	if !b.Active() {
		return nil, ErrDebuggerInactive
	}
	if err := b.ensureImported(ctx, "dataframe", dataFrameScript, b.importedDF, v.FrameID); err != nil {
		return nil, err
	}

	if v.RowCount > 0 {
		end = min(end, v.RowCount)
	}
	rows := []map[string]any{}
	if end <= start {
		return rows, nil
	}

	expr := v.Name + sliceExpr
	chunk := max(1, maxCellsPerEvaluate/max(1, len(v.Columns)))
	for pos := start; pos < end; pos += chunk {
		chunkEnd := min(pos+chunk, end)
		result, err := b.evaluate(ctx, fmt.Sprintf("%s(%s, %d, %d)", dataFrameRowsFunc, expr, pos, chunkEnd), v.FrameID)
		if err != nil {
			return nil, err
		}
		var payload struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			return nil, fmt.Errorf("decode rows %d-%d of %s: %w", pos, chunkEnd, v.Name, err)
		}
		rows = append(rows, payload.Data...)
	}
	return rows, nil
}
