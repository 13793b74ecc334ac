// Package engine runs the trading control loop and exposes it to the control
// API through Service.
package engine

import (
	"context"
	"errors"

	"perp-core/internal/balance"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
	ErrNoPosition     = errors.New("no open position for symbol")
)

// Service is everything the API layer may do with the engine.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) Status

	// Positions lists live exchange positions, flagging the ones the loop tracks.
	Positions(ctx context.Context) ([]PositionView, error)
	Balance(ctx context.Context) (balance.View, error)
	// ClosePosition cancels the symbol's orders and flattens it at market.
	ClosePosition(ctx context.Context, symbol string) error
	// TestConnection pings the venue and reads the account.
	TestConnection(ctx context.Context) error
}
