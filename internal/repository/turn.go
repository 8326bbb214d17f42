package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/pagination"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// TurnRepository is the durable append-only conversation turn store.
type TurnRepository struct {
	db dbtx
}

func NewTurnRepository(pool *pgxpool.Pool) *TurnRepository {
	return &TurnRepository{db: pool}
}

const turnColumns = `id, conversation_id, user_id, role, content, sources, created_at`

func (r *TurnRepository) SaveTurn(ctx context.Context, turn *domain.ConversationTurn) error {
	if !turn.Role.IsValid() {
		return domain.ErrInvalidRole
	}
	sources := turn.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode turn sources: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO conversation_turns (id, conversation_id, user_id, role, content, sources, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID, turn.ConversationID, turn.UserID, string(turn.Role), turn.Content, sourcesJSON,
		nullableVector(turn.Embedding), turn.Timestamp,
	)
	return err
}

// RecentTurns returns the newest limit turns of the conversation, oldest first.
func (r *TurnRepository) RecentTurns(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+turnColumns+` FROM (
			SELECT `+turnColumns+` FROM conversation_turns
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurnRows(rows)
}

func (r *TurnRepository) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM conversation_turns WHERE conversation_id = $1`,
		conversationID,
	).Scan(&n)
	return n, err
}

// SearchSimilarTurns ranks embedded turns of the user outside the given
// conversation by cosine similarity.
func (r *TurnRepository) SearchSimilarTurns(ctx context.Context, userID, excludeConversationID string, embedding []float32, limit int) ([]*domain.ScoredTurn, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+turnColumns+`, embedding <=> $3 AS distance
		 FROM conversation_turns
		 WHERE user_id = $1 AND conversation_id <> $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		userID, excludeConversationID, pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoredTurn
	for rows.Next() {
		var distance float64
		t, err := scanTurn(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, &domain.ScoredTurn{Turn: *t, Similarity: similarityFromDistance(distance)})
	}
	return results, rows.Err()
}

// ListTurnsWithCursor pages through a conversation oldest first. Turns of
// other users are never returned.
func (r *TurnRepository) ListTurnsWithCursor(ctx context.Context, conversationID, userID string, cursor *pagination.Cursor, limit int) (*service.TurnPage, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+turnColumns+`
			 FROM conversation_turns
			 WHERE conversation_id = $1 AND user_id = $2 AND (created_at, id) > ($3, $4)
			 ORDER BY created_at ASC, id ASC
			 LIMIT $5`,
			conversationID, userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+turnColumns+`
			 FROM conversation_turns
			 WHERE conversation_id = $1 AND user_id = $2
			 ORDER BY created_at ASC, id ASC
			 LIMIT $3`,
			conversationID, userID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanTurnRows(rows)
	if err != nil {
		return nil, err
	}

	items, nextCursor, hasMore := pagination.TrimPage(items, limit, func(t *domain.ConversationTurn) (string, time.Time) {
		return t.ID, t.Timestamp
	})

	return &service.TurnPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanTurnRows(rows pgx.Rows) ([]*domain.ConversationTurn, error) {
	var results []*domain.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func scanTurn(row pgx.Row, extra ...any) (*domain.ConversationTurn, error) {
	var t domain.ConversationTurn
	var role string
	var sourcesJSON []byte
	dest := append([]any{&t.ID, &t.ConversationID, &t.UserID, &role, &t.Content, &sourcesJSON, &t.Timestamp}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t.Role = domain.Role(role)
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
			return nil, fmt.Errorf("decode turn sources: %w", err)
		}
	}
	if len(t.Sources) == 0 {
		t.Sources = nil
	}
	return &t, nil
}
