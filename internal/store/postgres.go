package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/domain"
	"github.com/hikari-mc/chatcore-go/pkg/chaterr"
)

// PostgresStore is a swappable backend that upserts the whole JSON document
// into a single row, keeping the rewrite-as-a-whole contract of the file
// backend.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS channel_snapshots (
	id         INT PRIMARY KEY,
	version    INT NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func NewPostgresStore(cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure snapshot table: %w", err)
	}

	logger.Info("PostgreSQL snapshot store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

func (ps *PostgresStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	var data []byte
	err := ps.db.QueryRowContext(ctx,
		`SELECT document FROM channel_snapshots WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		ps.logger.Info("No channel document found, starting empty")
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, chaterr.StorageLoad("failed to query channel document", err)
	}

	snapshot := domain.EmptySnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, chaterr.StorageLoad("failed to parse channel document", err)
	}
	normalize(snapshot)

	return snapshot, nil
}

func (ps *PostgresStore) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return chaterr.StorageSave("failed to encode channel document", err)
	}

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO channel_snapshots (id, version, document, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, document = EXCLUDED.document, updated_at = now()`,
		snapshot.Version, data)
	if err != nil {
		return chaterr.StorageSave("failed to upsert channel document", err)
	}

	return nil
}

func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}
