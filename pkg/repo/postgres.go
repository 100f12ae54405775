package repo

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConversationRepository archives conversations in PostgreSQL.
type PostgresConversationRepository struct {
	db *stdsql.DB
}

var _ ConversationRepository = (*PostgresConversationRepository)(nil)

// NewPostgresConversationRepository opens a connection pool and applies
// pending migrations. The migration files are embedded in the binary.
func NewPostgresConversationRepository(ctx context.Context, databaseURL string) (*PostgresConversationRepository, error) {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresConversationRepository{db: db}, nil
}

// runMigrations applies pending embedded migrations via golang-migrate.
func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "chatloom", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// Close only the source driver; m.Close() would also close the shared
	// *sql.DB through the database driver.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	return nil
}

func (r *PostgresConversationRepository) Save(ctx context.Context, conv *Conversation) error {
	history, err := json.Marshal(conv.History)
	if err != nil {
		return fmt.Errorf("marshaling history for %s: %w", conv.ConversationID, err)
	}

	title := conv.Title
	if title == "" {
		title = ConversationTitle(conv.History)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, user_email, title, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (conversation_id) DO UPDATE
		SET history = EXCLUDED.history,
		    title = conversations.title,
		    updated_at = now()
		WHERE conversations.user_email = EXCLUDED.user_email`,
		conv.ConversationID, conv.UserEmail, title, history)
	if err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.ConversationID, err)
	}
	return nil
}

func (r *PostgresConversationRepository) Get(ctx context.Context, userEmail, conversationID string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_email, title, history, created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1 AND user_email = $2`,
		conversationID, userEmail)

	var conv Conversation
	var history []byte
	err := row.Scan(&conv.ConversationID, &conv.UserEmail, &conv.Title,
		&history, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q not found", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	if err := json.Unmarshal(history, &conv.History); err != nil {
		return nil, fmt.Errorf("decoding history for %s: %w", conversationID, err)
	}
	return &conv, nil
}

func (r *PostgresConversationRepository) List(ctx context.Context, userEmail string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, user_email, title, created_at, updated_at
		FROM conversations
		WHERE user_email = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		userEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %s: %w", userEmail, err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ConversationID, &conv.UserEmail, &conv.Title,
			&conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (r *PostgresConversationRepository) Delete(ctx context.Context, userEmail, conversationID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = $1 AND user_email = $2`,
		conversationID, userEmail)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("conversation %q not found", conversationID)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresConversationRepository) Close() error {
	return r.db.Close()
}
