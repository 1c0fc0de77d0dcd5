package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/config"
	"github.com/liao/culture-bot/internal/logger"
	"github.com/liao/culture-bot/internal/parser"
	"github.com/liao/culture-bot/internal/rag"
)

type flags struct {
	config       string
	input        string
	format       string
	chunkSize    int
	chunkOverlap int
	batchSize    int
	pause        time.Duration
	restart      bool
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Parse the company corpus and write it into the vector index",
		Long: `indexer loads a corpus manifest (or a single text, html, jsonl or encrypted
.enc file), splits it into documents and embeds them into the persistent
vector index used by the chat bot. Interrupted runs resume from a checkpoint.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "configs/config.yaml", "config file path")
	fl.StringVarP(&f.input, "input", "i", "", "corpus manifest or file (default: data.manifest_file)")
	fl.StringVar(&f.format, "format", "auto", "input format: manifest, text, html, jsonl, enc-jsonl, auto")
	fl.IntVar(&f.chunkSize, "chunk-size", parser.DefaultChunkSize, "max characters per text chunk")
	fl.IntVar(&f.chunkOverlap, "chunk-overlap", parser.DefaultChunkOverlap, "characters shared by neighbouring chunks")
	fl.IntVar(&f.batchSize, "batch", defaultBatchSize, "documents per embedding batch")
	fl.DurationVar(&f.pause, "pause", 500*time.Millisecond, "pause between batches")
	fl.BoolVar(&f.restart, "restart", false, "ignore the checkpoint and index everything again")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Setup(os.Stderr, cfg.Log)

	input := f.input
	if input == "" {
		input = cfg.Data.ManifestFile
	}
	if input == "" {
		return fmt.Errorf("no input: pass --input or set data.manifest_file")
	}

	// 1. 解析语料
	log.Info("parsing corpus", "input", input, "format", f.format)
	docs, err := loadCorpus(input, f.format, parser.LoadOptions{
		ChunkSize:    f.chunkSize,
		ChunkOverlap: f.chunkOverlap,
		DecryptKey:   cfg.Data.DecryptKey,
	})
	if err != nil {
		return err
	}
	log.Info("parsed", "documents", len(docs))
	if len(docs) == 0 {
		return fmt.Errorf("corpus %s has no documents", input)
	}

	// 2. 向量库
	apiKey, baseURL := cfg.EmbeddingCredentials()
	embed, err := ai.NewEmbeddingFunc(ctx, ai.EmbeddingOptions{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		RPM:      cfg.Embedding.RPMLimit,
	})
	if err != nil {
		return fmt.Errorf("create embedding func: %w", err)
	}
	store, err := rag.NewStore(cfg.RAG.VectorsDir, cfg.RAG.Collection, embed)
	if err != nil {
		return err
	}

	// 3. 分批向量化
	collection := cfg.RAG.Collection
	if collection == "" {
		collection = rag.DefaultCollection
	}
	progress := filepath.Join(cfg.RAG.VectorsDir, ".progress-"+collection)
	if f.restart {
		_ = os.Remove(progress)
	}
	ix := &indexer{store: store, batchSize: f.batchSize, progress: progress, pause: f.pause}
	added, err := ix.run(ctx, docs)
	if err != nil {
		return err
	}

	// 4. 导入报告（不输出语料内容）
	fmt.Printf(`Index Report
============
Input:       %s
Documents:   %d
Added:       %d
Vectors:     %d
Vectors dir: %s
Collection:  %s
`, input, len(docs), added, store.Count(), cfg.RAG.VectorsDir, collection)
	return nil
}

func loadCorpus(input, format string, opts parser.LoadOptions) ([]parser.Document, error) {
	if format == "" || format == "auto" {
		format = parser.DetectFormat(input)
	}
	if format != "manifest" {
		return parser.ParseFile(input, format, opts)
	}
	m, err := parser.LoadManifest(input)
	if err != nil {
		return nil, err
	}
	return m.Load(opts)
}
