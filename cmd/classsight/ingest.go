package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classsight/classsight/config"
	"github.com/classsight/classsight/internal/ingest"
	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/provider"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var cmdIngest = &cobra.Command{
		Use:   "ingest",
		Short: "Generate, embed and store evidence chunks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			dsn, err := cfg.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}

			ing := ingest.New(st, llm, cfg.Assistant.ChunkTable, cfg.Ingest.EmbedBatch)
			inserted, skipped, err := ing.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("ingestion complete: %d inserted, %d skipped\n", inserted, skipped)
			return nil
		},
	}
	cmdIngest.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmdIngest
}
