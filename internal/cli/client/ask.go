package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// AskRequest is the body of POST /answer.
type AskRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Provider       string `json:"provider,omitempty"`
	Category       string `json:"category,omitempty"`
}

// AskResult aggregates one answer stream.
type AskResult struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	Sources        []domain.Source `json:"sources"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
	Code           string          `json:"code,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		conversationID string
		userID         string
		provider       string
		category       string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a legal question",
		Long:  "Streams an answer from the server. Reuse --conversation to ask follow-up questions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("json")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			if userID == "" {
				userID = defaultUserID()
			}
			req := AskRequest{
				Query:          args[0],
				ConversationID: conversationID,
				UserID:         userID,
				Provider:       provider,
				Category:       category,
			}
			return runAsk(cmd.Context(), api, req, cmd.OutOrStdout(), cmd.ErrOrStderr(), outputJSON)
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id (default: new conversation)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (default: from config, else \"cli\")")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Generation provider")
	cmd.Flags().StringVar(&category, "category", "", "Restrict retrieval to a source category")

	return cmd
}

func runAsk(ctx context.Context, api *APIClient, req AskRequest, out, errOut io.Writer, outputJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	result := AskResult{ConversationID: req.ConversationID}
	err := api.Stream(ctx, "/answer", req, func(ev domain.Event) error {
		switch ev.Kind {
		case domain.EventTextDelta:
			result.Answer += ev.Text
			if !outputJSON {
				fmt.Fprint(out, ev.Text)
			}
		case domain.EventStatus:
			if !outputJSON {
				fmt.Fprintf(errOut, "… %s\n", ev.Status)
			}
		case domain.EventSources:
			result.Sources = append(result.Sources, ev.Sources...)
		case domain.EventMetadata:
			result.Metadata = ev.Metadata
		case domain.EventError:
			result.Error = ev.Error
			result.Code = ev.Code
		}
		return nil
	})
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSources(out, result.Sources)
		fmt.Fprintf(errOut, "conversation: %s\n", result.ConversationID)
	}

	if result.Error != "" {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

func printSources(out io.Writer, sources []domain.Source) {
	fmt.Fprintln(out)
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range sources {
		line := fmt.Sprintf("  [%d] %s", i+1, s.Title)
		if s.Citation != "" {
			line += " (" + s.Citation + ")"
		}
		if s.URL != "" {
			line += " " + s.URL
		}
		fmt.Fprintln(out, line)
	}
}
