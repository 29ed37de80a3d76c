package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage using PostgreSQL. Expected schema:
//
//	order_intents(intent_id, market_id, side, price, size_usdc, strategy,
//	              reason, truth_confidence, expected_edge, idempotency_key,
//	              created_at_ms)
//	truth_finals(match_id, winner_team_id, confidence, confirmed_by text[],
//	             finalized_at_ms)
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// StoreIntent inserts an order intent.
func (p *PostgresStorage) StoreIntent(ctx context.Context, intent *types.OrderIntent) error {
	query := `
		INSERT INTO order_intents (
			intent_id, market_id, side, price, size_usdc,
			strategy, reason, truth_confidence, expected_edge,
			idempotency_key, created_at_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		intent.IntentID,
		intent.MarketID,
		string(intent.Side),
		intent.Price,
		intent.SizeUSDC,
		intent.Strategy,
		intent.Reason,
		intent.TruthConfidence,
		intent.ExpectedEdge,
		intent.IdempotencyKey,
		intent.TsMs,
	)
	if err != nil {
		return fmt.Errorf("insert order intent: %w", err)
	}

	p.logger.Debug("intent-stored",
		zap.String("intent_id", intent.IntentID),
		zap.String("market_id", intent.MarketID),
		zap.String("side", string(intent.Side)))

	return nil
}

// StoreTruthFinal inserts a finalized match outcome.
func (p *PostgresStorage) StoreTruthFinal(ctx context.Context, final *types.TruthFinal) error {
	query := `
		INSERT INTO truth_finals (
			match_id, winner_team_id, confidence, confirmed_by, finalized_at_ms
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		final.MatchID,
		final.WinnerTeamID,
		final.Confidence,
		pq.Array(final.ConfirmedBy),
		final.FinalizedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert truth final: %w", err)
	}

	p.logger.Debug("truth-final-stored",
		zap.String("match_id", final.MatchID),
		zap.String("winner_team_id", final.WinnerTeamID))

	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")

	return p.db.Close()
}
