package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/spf13/cobra"
)

// TurnsResponse is one page of GET /conversations/{id}/turns.
type TurnsResponse struct {
	Items   []domain.ConversationTurn `json:"items"`
	Cursor  string                    `json:"cursor,omitempty"`
	HasMore bool                      `json:"has_more"`
}

// HistoryCmd creates the history command.
func HistoryCmd() *cobra.Command {
	var (
		userID string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show the turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("json")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = defaultUserID()
			}
			return runHistory(cmd.Context(), api, args[0], userID, limit, cursor, cmd.OutOrStdout(), outputJSON)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (default: from config, else \"cli\")")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of turns")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runHistory(ctx context.Context, api *APIClient, conversationID, userID string, limit int, cursor string, out io.Writer, outputJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	params := url.Values{}
	params.Set("user_id", userID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/turns?" + params.Encode()

	var page TurnsResponse
	if err := api.GetData(ctx, path, &page); err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	for _, turn := range page.Items {
		fmt.Fprintf(out, "[%s] %s: %s\n", turn.Timestamp.Local().Format(time.DateTime), turn.Role, turn.Content)
	}
	if page.HasMore {
		fmt.Fprintf(out, "\nMore turns available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}
