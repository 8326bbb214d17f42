package service

import (
	"context"
	"strings"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/pagination"
)

const (
	defaultTurnPageSize = 50
	maxTurnPageSize     = 200
)

// ErrInvalidCursor is returned for a cursor that does not decode.
var ErrInvalidCursor = domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")

// TurnPage is one page of a conversation, oldest turn first.
type TurnPage struct {
	Items      []*domain.ConversationTurn
	NextCursor string
	HasMore    bool
}

// TurnLister reads persisted turns page by page.
type TurnLister interface {
	ListTurnsWithCursor(ctx context.Context, conversationID, userID string, cursor *pagination.Cursor, limit int) (*TurnPage, error)
}

type ListTurnsInput struct {
	ConversationID string
	UserID         string
	Cursor         string
	Limit          int
}

type ListTurnsOutput struct {
	Items   []*domain.ConversationTurn `json:"items"`
	Cursor  string                     `json:"cursor,omitempty"`
	HasMore bool                       `json:"has_more"`
}

// ConversationService exposes the stored history of conversations.
type ConversationService struct {
	turns TurnLister
}

func NewConversationService(turns TurnLister) *ConversationService {
	return &ConversationService{turns: turns}
}

// ListTurns returns a page of turns. A conversation without turns for the
// user is reported as not found.
func (s *ConversationService) ListTurns(ctx context.Context, input ListTurnsInput) (*ListTurnsOutput, error) {
	if strings.TrimSpace(input.ConversationID) == "" {
		return nil, domain.ErrMissingConversation
	}
	if strings.TrimSpace(input.UserID) == "" {
		return nil, domain.ErrMissingUser
	}
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	limit := pagination.ClampLimit(input.Limit, defaultTurnPageSize, maxTurnPageSize)

	page, err := s.turns.ListTurnsWithCursor(ctx, input.ConversationID, input.UserID, cursor, limit)
	if err != nil {
		return nil, err
	}
	if cursor == nil && len(page.Items) == 0 {
		return nil, domain.ErrConversationNotFound
	}
	items := page.Items
	if items == nil {
		items = []*domain.ConversationTurn{}
	}
	return &ListTurnsOutput{
		Items:   items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}
