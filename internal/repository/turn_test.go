//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/pagination"
	"github.com/cloo-solutions/lexrag/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveTurns(ctx context.Context, t *testing.T, repo *TurnRepository, convID, userID string, n int, start time.Time) []*domain.ConversationTurn {
	t.Helper()
	turns := make([]*domain.ConversationTurn, n)
	for i := range n {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		turns[i] = &domain.ConversationTurn{
			ID:             uuid.NewString(),
			ConversationID: convID,
			UserID:         userID,
			Role:           role,
			Content:        "turn " + string(rune('a'+i)),
			Timestamp:      start.Add(time.Duration(i) * time.Second),
			Embedding:      unitVector(i % 4),
		}
		require.NoError(t, repo.SaveTurn(ctx, turns[i]))
	}
	return turns
}

func TestTurnRepository_SaveAndRecent(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedDatabase(ctx, t, "../../migrations")
	repo := NewTurnRepository(pool)
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	saved := saveTurns(ctx, t, repo, "conv-1", "user-1", 5, start)

	recent, err := repo.RecentTurns(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, saved[2].ID, recent[0].ID)
	assert.Equal(t, saved[4].ID, recent[2].ID)
	assert.True(t, recent[0].Timestamp.Equal(saved[2].Timestamp))

	count, err := repo.CountTurns(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	err = repo.SaveTurn(ctx, &domain.ConversationTurn{
		ID: uuid.NewString(), ConversationID: "conv-1", UserID: "user-1", Role: "system", Content: "x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestTurnRepository_KeepsSources(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedDatabase(ctx, t, "../../migrations")
	repo := NewTurnRepository(pool)

	turn := &domain.ConversationTurn{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		UserID:         "user-1",
		Role:           domain.RoleAssistant,
		Content:        "Notice is required.",
		Timestamp:      time.Now().UTC().Truncate(time.Microsecond),
		Sources:        []domain.Source{{Title: "Rent Control Act", Citation: "Act 12 of 1999", Score: 0.82}},
	}
	require.NoError(t, repo.SaveTurn(ctx, turn))

	recent, err := repo.RecentTurns(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, turn.Sources, recent[0].Sources)
}

func TestTurnRepository_SearchSimilarTurns(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedDatabase(ctx, t, "../../migrations")
	repo := NewTurnRepository(pool)
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	saveTurns(ctx, t, repo, "current", "user-1", 2, start)
	older := saveTurns(ctx, t, repo, "older", "user-1", 2, start.Add(-time.Hour))
	saveTurns(ctx, t, repo, "foreign", "user-2", 2, start)
	require.NoError(t, repo.SaveTurn(ctx, &domain.ConversationTurn{
		ID: uuid.NewString(), ConversationID: "older", UserID: "user-1", Role: domain.RoleUser,
		Content: "not embedded", Timestamp: start,
	}))

	results, err := repo.SearchSimilarTurns(ctx, "user-1", "current", unitVector(0), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, older[0].ID, results[0].Turn.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	for _, r := range results {
		assert.Equal(t, "older", r.Turn.ConversationID)
	}
}

func TestTurnRepository_ListTurnsWithCursor(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedDatabase(ctx, t, "../../migrations")
	repo := NewTurnRepository(pool)
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	saved := saveTurns(ctx, t, repo, "conv-1", "user-1", 5, start)

	first, err := repo.ListTurnsWithCursor(ctx, "conv-1", "user-1", nil, 2)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, saved[0].ID, first.Items[0].ID)
	require.NotEmpty(t, first.NextCursor)

	var seen []string
	cursorStr := first.NextCursor
	for cursorStr != "" {
		cursor, err := pagination.DecodeCursor(cursorStr)
		require.NoError(t, err)
		page, err := repo.ListTurnsWithCursor(ctx, "conv-1", "user-1", cursor, 2)
		require.NoError(t, err)
		for _, item := range page.Items {
			seen = append(seen, item.ID)
		}
		cursorStr = page.NextCursor
	}
	assert.Equal(t, []string{saved[2].ID, saved[3].ID, saved[4].ID}, seen)

	other, err := repo.ListTurnsWithCursor(ctx, "conv-1", "user-2", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, other.Items)
	assert.False(t, other.HasMore)
}
