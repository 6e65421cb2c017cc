package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/tristream/internal/config"
	"github.com/aleksaelezovic/tristream/internal/engine"
	"github.com/aleksaelezovic/tristream/internal/linkeddata"
	"github.com/aleksaelezovic/tristream/internal/rdfio"
	"github.com/aleksaelezovic/tristream/pkg/stream"
)

const version = "0.1.0"

func main() {
	// optional .env for local overrides; absence is not an error
	_ = godotenv.Load()

	if err := rootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tristream",
		Short:         "Continuous SPARQL query engine over RDF triple streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCommand())
	root.AddCommand(versionCommand())

	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tristream version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tristream " + version)
		},
	}
}

func runCommand() *cobra.Command {
	var (
		configPath   string
		queryFiles   []string
		queries      []string
		queryTTL     int
		statementTTL int
		metrics      bool
		linkedData   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register queries and evaluate them against N-Triples from stdin",
		Long: `Registers one or more SPARQL SELECT queries, then streams N-Triples
from standard input through the engine. Solutions are printed as they are
computed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Metrics = metrics
			}
			if cmd.Flags().Changed("ttl") {
				cfg.QueryTTL = queryTTL
			}
			if cmd.Flags().Changed("statement-ttl") {
				cfg.StatementTTL = statementTTL
			}
			if cmd.Flags().Changed("linked-data") {
				cfg.LinkedData.Enabled = linkedData
			}

			for _, path := range queryFiles {
				text, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read query file: %w", err)
				}
				queries = append(queries, string(text))
			}
			if len(queries) == 0 {
				return fmt.Errorf("no queries given; use --query or --query-file")
			}

			return run(cfg, queries, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration")
	cmd.Flags().StringArrayVar(&queries, "query", nil, "SPARQL SELECT query text (repeatable)")
	cmd.Flags().StringArrayVar(&queryFiles, "query-file", nil, "file containing a SPARQL SELECT query (repeatable)")
	cmd.Flags().IntVar(&queryTTL, "ttl", stream.TTLInfinite, "query time-to-live in seconds (0 = infinite)")
	cmd.Flags().IntVar(&statementTTL, "statement-ttl", stream.TTLInfinite, "statement time-to-live in seconds (0 = infinite)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "emit performance metrics as TSV on stdout")
	cmd.Flags().BoolVar(&linkedData, "linked-data", false, "dereference HTTP IRIs referenced by queries")

	return cmd
}

func run(cfg *config.Config, queries []string, out io.Writer) error {
	var opts []engine.Option
	if cfg.Metrics {
		opts = append(opts, engine.WithMetrics(out))
	}

	var fetcher *linkeddata.Fetcher
	if cfg.LinkedData.Enabled {
		var err error
		fetcher, err = linkeddata.New(cfg.LinkedData.CacheDir, cfg.LinkedData.StatementTTL)
		if err != nil {
			return fmt.Errorf("open linked data cache: %w", err)
		}
		opts = append(opts, engine.WithLinkedData(fetcher))
	}

	eng := engine.New(opts...)
	defer eng.ShutDown()
	if fetcher != nil {
		fetcher.SetIngester(eng)
	}

	for i, text := range queries {
		n := i + 1
		_, err := eng.AddQuery(cfg.QueryTTL, text, func(solution stream.BindingSet) {
			fmt.Fprintf(out, "[%d] %s\n", n, solution)
		})
		if err != nil {
			return fmt.Errorf("query %d: %w", n, err)
		}
	}

	src := rdfio.NewSource(os.Stdin)
	for {
		triple, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		eng.AddStatement(cfg.StatementTTL, triple)
	}
}
