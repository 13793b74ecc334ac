package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrOrderIDRequired rejects journal rows without a venue order id.
var ErrOrderIDRequired = errors.New("order id is required")

// RecordOrder inserts an order row, or refreshes status and fill data when the
// id was already journaled.
func (d *Database) RecordOrder(ctx context.Context, o OrderRecord) error {
	if o.ID == "" {
		return ErrOrderIDRequired
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, client_id, symbol, side, type, qty, price, stop_price, reduce_only,
			status, executed_qty, avg_price, simulated, purpose, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			executed_qty = excluded.executed_qty,
			avg_price = excluded.avg_price
	`,
		o.ID, o.ClientID, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.StopPrice, boolToInt(o.ReduceOnly),
		o.Status, o.ExecutedQty, o.AvgPrice, boolToInt(o.Simulated), o.Purpose, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record order %s: %w", o.ID, err)
	}
	return nil
}

// RecordReconciliation appends a reconciliation action.
func (d *Database) RecordReconciliation(ctx context.Context, r ReconciliationRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliations (symbol, action, live_qty, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.Symbol, r.Action, r.LiveQty, r.Detail, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("record reconciliation %s: %w", r.Symbol, err)
	}
	return nil
}

// RecentOrders returns the newest orders first.
func (d *Database) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(client_id, ''), symbol, side, type, qty, price, stop_price, reduce_only,
		       status, executed_qty, avg_price, simulated, purpose, created_at
		FROM orders
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			o          OrderRecord
			reduceOnly int
			simulated  int
		)
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price, &o.StopPrice, &reduceOnly,
			&o.Status, &o.ExecutedQty, &o.AvgPrice, &simulated, &o.Purpose, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.ReduceOnly = reduceOnly != 0
		o.Simulated = simulated != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentReconciliations returns the newest reconciliation actions first.
func (d *Database) RecentReconciliations(ctx context.Context, limit int) ([]ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, action, live_qty, COALESCE(detail, ''), created_at
		FROM reconciliations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []ReconciliationRecord
	for rows.Next() {
		var r ReconciliationRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Action, &r.LiveQty, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
