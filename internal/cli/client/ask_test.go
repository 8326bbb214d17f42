package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, frames []string, got *AskRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/answer", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprint(w, frame)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

var answerFrames = []string{
	"event: status\ndata: {\"type\":\"status\",\"status\":\"Generating answer\"}\n\n",
	"event: text_delta\ndata: {\"type\":\"text_delta\",\"text\":\"A landlord must give \"}\n\n",
	"event: text_delta\ndata: {\"type\":\"text_delta\",\"text\":\"written notice.\"}\n\n",
	"event: sources\ndata: {\"type\":\"sources\",\"sources\":[{\"title\":\"Rent Control Act\",\"citation\":\"s. 4\",\"score\":0.82}]}\n\n",
	"event: metadata\ndata: {\"type\":\"metadata\",\"metadata\":{\"confidence\":82}}\n\n",
}

func TestRunAsk_PrintsStream(t *testing.T) {
	var got AskRequest
	srv := sseServer(t, answerFrames, &got)

	var out, errOut bytes.Buffer
	req := AskRequest{Query: "Is notice required?", ConversationID: "conv-1", UserID: "amara", Category: "tenancy"}
	require.NoError(t, runAsk(context.Background(), NewAPIClient(srv.URL), req, &out, &errOut, false))

	assert.Equal(t, req, got)
	assert.Contains(t, out.String(), "A landlord must give written notice.")
	assert.Contains(t, out.String(), "[1] Rent Control Act (s. 4)")
	assert.Contains(t, errOut.String(), "Generating answer")
	assert.Contains(t, errOut.String(), "conversation: conv-1")
}

func TestRunAsk_JSONAggregates(t *testing.T) {
	srv := sseServer(t, answerFrames, nil)

	var out, errOut bytes.Buffer
	req := AskRequest{Query: "q", ConversationID: "conv-1", UserID: "u"}
	require.NoError(t, runAsk(context.Background(), NewAPIClient(srv.URL), req, &out, &errOut, true))

	var result AskResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "A landlord must give written notice.", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, 0.82, result.Sources[0].Score)
	assert.Equal(t, float64(82), result.Metadata["confidence"])
	assert.Empty(t, errOut.String())
}

func TestRunAsk_ErrorEvent(t *testing.T) {
	srv := sseServer(t, []string{
		"event: error\ndata: {\"type\":\"error\",\"error\":\"the answer service is temporarily unavailable\",\"code\":\"UPSTREAM_UNAVAILABLE\"}\n\n",
	}, nil)

	var out, errOut bytes.Buffer
	err := runAsk(context.Background(), NewAPIClient(srv.URL), AskRequest{Query: "q"}, &out, &errOut, true)
	assert.EqualError(t, err, "the answer service is temporarily unavailable")

	var result AskResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", result.Code)
}
