package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/michaelpento.lv/dualarb/types"
)

// AuditLog appends execution records to the executions table
type AuditLog struct {
	db DB
}

// NewAuditLog creates an audit sink over db
func NewAuditLog(db DB) *AuditLog {
	return &AuditLog{db: db}
}

type executionRow struct {
	ID                string
	PairID            string
	ExecutionType     string
	StatusA           string
	StatusB           string
	Opportunity       []byte
	ResultA           []byte
	ResultB           []byte
	RealizedBuyPrice  string
	RealizedSellPrice string
	TotalProfit       string
	CreatedAt         time.Time
}

func toExecutionRow(r types.ExecutionRecord) (executionRow, error) {
	opp, err := json.Marshal(r.Opportunity)
	if err != nil {
		return executionRow{}, fmt.Errorf("failed to encode opportunity: %w", err)
	}
	resA, err := json.Marshal(r.ResultA)
	if err != nil {
		return executionRow{}, fmt.Errorf("failed to encode result A: %w", err)
	}
	resB, err := json.Marshal(r.ResultB)
	if err != nil {
		return executionRow{}, fmt.Errorf("failed to encode result B: %w", err)
	}
	return executionRow{
		ID:                r.ID,
		PairID:            r.Opportunity.PairID,
		ExecutionType:     string(r.ExecutionType),
		StatusA:           string(r.ResultA.Status),
		StatusB:           string(r.ResultB.Status),
		Opportunity:       opp,
		ResultA:           resA,
		ResultB:           resB,
		RealizedBuyPrice:  r.RealizedBuyPrice.String(),
		RealizedSellPrice: r.RealizedSellPrice.String(),
		TotalProfit:       r.TotalProfit.String(),
		CreatedAt:         r.Timestamp.UTC(),
	}, nil
}

// Append inserts the record. Records are never updated.
func (a *AuditLog) Append(ctx context.Context, record types.ExecutionRecord) error {
	row, err := toExecutionRow(record)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(ctx, `
		INSERT INTO executions (id, pair_id, execution_type, status_a, status_b, opportunity, result_a, result_b,
			realized_buy_price, realized_sell_price, total_profit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12)`,
		row.ID, row.PairID, row.ExecutionType, row.StatusA, row.StatusB,
		row.Opportunity, row.ResultA, row.ResultB,
		row.RealizedBuyPrice, row.RealizedSellPrice, row.TotalProfit, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", record.ID, err)
	}
	return nil
}
