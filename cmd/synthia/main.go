package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"synthia/internal/chunker"
	"synthia/internal/config"
	"synthia/internal/domain"
	"synthia/internal/embedding"
	"synthia/internal/extract"
	"synthia/internal/service"
	"synthia/internal/summarizer"
	"synthia/internal/tui"
	"synthia/internal/vectorstore"
)

// errUsage signals a command line mistake; main exits with status 2.
var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run dispatches to a subcommand. Commands return instead of exiting so
// deferred store cleanup always runs.
func run(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "serve":
		return serveCmd(args[1:])
	case "mcp":
		return mcpCmd(args[1:])
	case "upload":
		return uploadCmd(args[1:])
	case "query":
		return queryCmd(args[1:])
	case "score":
		return scoreCmd(args[1:])
	case "ingest":
		return ingestCmd(args[1:])
	case "tui":
		return tuiCmd(args[1:])
	default:
		return errUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: synthia <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve   Run the HTTP API (and the MCP server when --mcp-addr is set)")
	fmt.Fprintln(os.Stderr, "  mcp     Serve the MCP tools over stdin/stdout")
	fmt.Fprintln(os.Stderr, "  upload  Store a paragraph as a fragment")
	fmt.Fprintln(os.Stderr, "  query   List the fragments nearest to a prompt")
	fmt.Fprintln(os.Stderr, "  score   Score fragments against a paper")
	fmt.Fprintln(os.Stderr, "  ingest  Chunk and upload .txt, .md and .pdf files")
	fmt.Fprintln(os.Stderr, "  tui     Interactive query/score terminal UI")
}

func loadConfig(path string) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildService assembles the configured collaborators. The returned store
// must be closed by the caller.
func buildService(ctx context.Context, cfg *config.AppConfig) (*service.FragmentServiceImpl, domain.VectorStore, error) {
	emb, err := embedding.New(cfg.Embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder init: %w", err)
	}

	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "sentence", "":
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	default:
		return nil, nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency", "":
		sum = summarizer.NewFrequencySummarizer()
	default:
		return nil, nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}

	dim := cfg.Dimension()
	if dim != 0 && dim != emb.Dimension() {
		return nil, nil, fmt.Errorf("%w: config declares %d, embedder produces %d", domain.ErrDimensionMismatch, dim, emb.Dimension())
	}
	st, err := vectorstore.New(ctx, cfg.VectorStore, emb.Dimension())
	if err != nil {
		return nil, nil, fmt.Errorf("vector store init: %w", err)
	}

	svc := service.NewFragmentService(ch, emb, st, sum, service.Options{
		Namespace:           cfg.Namespace,
		FetchConcurrency:    cfg.Scorer.FetchConcurrency,
		CallTimeout:         time.Duration(cfg.Scorer.CallTimeoutSecs) * time.Second,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
	})
	return svc, st, nil
}

// openService loads the config and builds the service. close releases the
// vector store and is a no-op when err is non-nil.
func openService(cfgPath string) (svc *service.FragmentServiceImpl, cfg *config.AppConfig, closeFn func(), err error) {
	closeFn = func() {}
	if cfg, err = loadConfig(cfgPath); err != nil {
		return nil, nil, closeFn, err
	}
	svc, st, err := buildService(context.Background(), cfg)
	if err != nil {
		return nil, nil, closeFn, err
	}
	return svc, cfg, func() {
		if err := st.Close(); err != nil {
			log.Printf("close vector store: %v", err)
		}
	}, nil
}

// textArg returns the inline value or, when it is "-", standard input.
func textArg(v string, stdin io.Reader) (string, error) {
	if v != "-" {
		return v, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func paperFromFile(path string) (string, error) {
	if !extract.Supported(path) {
		return "", fmt.Errorf("%w: %s is not a .txt, .md or .pdf file", domain.ErrInvalidInput, path)
	}
	return extract.Text(path)
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func uploadCmd(args []string) error {
	flags := flag.NewFlagSet("upload", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml (default ./config.yaml or ~/.config/synthia/config.yaml)")
	text := flags.String("text", "", "paragraph to upload, or - for stdin")
	_ = flags.Parse(args)
	if *text == "" && flags.NArg() > 0 {
		*text = strings.Join(flags.Args(), " ")
	}
	paragraph, err := textArg(*text, os.Stdin)
	if err != nil {
		return err
	}

	svc, _, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}
	id, err := svc.Upload(context.Background(), paragraph)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return printJSON(os.Stdout, map[string]any{"id": id, "status": "success"})
}

func queryCmd(args []string) error {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	prompt := flags.String("prompt", "", "prompt text, or - for stdin")
	topK := flags.Int("top-k", 0, "number of matches (default from config)")
	_ = flags.Parse(args)
	if *prompt == "" && flags.NArg() > 0 {
		*prompt = strings.Join(flags.Args(), " ")
	}
	text, err := textArg(*prompt, os.Stdin)
	if err != nil {
		return err
	}

	svc, cfg, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}
	k := *topK
	if k == 0 {
		k = cfg.Scorer.DefaultTopK
	}
	matches, err := svc.Query(context.Background(), text, k)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return printJSON(os.Stdout, map[string]any{"namespace": svc.Namespace(), "matches": matches})
}

func scoreCmd(args []string) error {
	flags := flag.NewFlagSet("score", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	paper := flags.String("paper", "", "paper text, or - for stdin")
	paperFile := flags.String("paper-file", "", "read the paper from a .txt, .md or .pdf file")
	ids := flags.String("ids", "", "comma-separated fragment ids")
	_ = flags.Parse(args)

	var (
		text string
		err  error
	)
	if *paperFile != "" {
		text, err = paperFromFile(*paperFile)
	} else {
		text, err = textArg(*paper, os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	svc, _, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}
	contributions, err := svc.Score(context.Background(), text, splitIDs(*ids))
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	return printJSON(os.Stdout, map[string]any{"contributions": contributions})
}

func ingestCmd(args []string) error {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	_ = flags.Parse(args)
	if flags.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: synthia ingest [--config=config.yaml] file1.txt [paper.pdf ...]")
		return errUsage
	}

	svc, _, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}
	start := time.Now()
	report, err := svc.IngestDocuments(context.Background(), flags.Args())
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	log.Printf("ingested %d documents into %d fragments in %s", report.Documents, len(report.FragmentIDs), time.Since(start).Round(time.Millisecond))
	return printJSON(os.Stdout, map[string]any{"documents": report.Documents, "fragment_ids": report.FragmentIDs, "summary": report.Summary})
}

func tuiCmd(args []string) error {
	flags := flag.NewFlagSet("tui", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	ids := flags.String("ids", "", "comma-separated fragment ids to score in score mode")
	_ = flags.Parse(args)

	svc, cfg, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}

	fragmentIDs := splitIDs(*ids)
	summary := "Namespace " + svc.Namespace()
	if flags.NArg() > 0 {
		report, err := svc.IngestDocuments(context.Background(), flags.Args())
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		summary = report.Summary
		fragmentIDs = append(fragmentIDs, report.FragmentIDs...)
	}

	m := tui.New(svc, summary, fragmentIDs, cfg.Scorer.DefaultTopK)
	_, err = tea.NewProgram(m).Run()
	return err
}
