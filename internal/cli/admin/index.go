package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloo-solutions/lexrag/internal/repository"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/spf13/cobra"
)

const (
	maxIndexLine           = 4 << 20
	indexEmbeddingAttempts = 4
)

// DocumentIndexer writes documents to the document index.
type DocumentIndexer interface {
	Put(ctx context.Context, doc service.IndexDocument) ([]string, error)
}

// IndexCmd returns the index command group
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the legal document index",
	}
	cmd.AddCommand(indexPutCmd())
	cmd.AddCommand(indexDeleteCmd())
	return cmd
}

func indexPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Embed and upsert documents from a JSONL file",
		Long: `Reads one JSON document per line:

  {"id": "rca-s4", "content": "...", "metadata": {"title": "Rent Control Act", "citation": "Act 12 of 1999", "category": "tenancy"}}

Documents longer than one span are split and stored as "<id>#<n>". Use "-" to read stdin.`,
		RunE: runIndexPut,
	}
	cmd.Flags().StringP("file", "f", "", "JSONL file with documents (required)")
	cmd.Flags().Int("concurrency", 4, "Concurrent embedding requests per document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func indexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a document and all of its spans",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndexDelete,
	}
}

func runIndexPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	path, _ := cmd.Flags().GetString("file")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	in, closeIn, err := openInput(path)
	if err != nil {
		return err
	}
	defer closeIn()

	b, err := start(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.close()

	chunks := repository.NewChunkRepository(b.pool)
	indexer := service.NewIndexService(b.embeddingClient(indexEmbeddingAttempts), chunks,
		service.WithChunkTx(repository.NewTxRunner(b.pool)),
		service.WithIndexConcurrency(concurrency),
		service.WithIndexLogger(b.logger),
	)

	docs, spans, err := indexDocuments(ctx, in, indexer)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents (%d spans)\n", docs, spans)
	return nil
}

// indexDocuments reads JSONL documents from r and indexes them in order.
// Blank lines are skipped. The first malformed or failing document stops
// the run with its line number.
func indexDocuments(ctx context.Context, r io.Reader, indexer DocumentIndexer) (int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxIndexLine)

	docs, spans, line := 0, 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc service.IndexDocument
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return docs, spans, fmt.Errorf("line %d: invalid document: %w", line, err)
		}
		ids, err := indexer.Put(ctx, doc)
		if err != nil {
			return docs, spans, fmt.Errorf("line %d: %w", line, err)
		}
		docs++
		spans += len(ids)
	}
	if err := scanner.Err(); err != nil {
		return docs, spans, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, spans, nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := start(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.close()

	chunks := repository.NewChunkRepository(b.pool)
	indexer := service.NewIndexService(b.embeddingClient(indexEmbeddingAttempts), chunks, service.WithIndexLogger(b.logger))
	n, err := indexer.Delete(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d spans)\n", args[0], n)
	return nil
}
