package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

var (
	topic      string
	maxLoops   int
	provider   string
	outputPath string
	fullPage   bool
)

func main() {
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "Research a topic with iterative web searches",
		Long:  `deep-research generates a search query, summarizes the results, reflects on what is missing and repeats before writing a summary with sources.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("topic") {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = input
			}
			topic = strings.TrimSpace(topic)
			if topic == "" {
				return fmt.Errorf("topic cannot be empty")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			model, err := clients.NewModel(ctx, cfg.LLMProvider, cfg.LLMApiKey(), clients.ModelType(cfg.Model))
			if err != nil {
				return fmt.Errorf("failed to create model: %w", err)
			}

			search, err := tools.NewSearchProvider(provider, cfg.TavilyApiKey, tools.NewPDFScraper(cfg.MistralApiKey))
			if err != nil {
				return err
			}

			researchCfg := cfg.Research()
			researchCfg.MaxLoops = maxLoops
			researchCfg.FetchFullPage = fullPage

			engine := research.NewEngine(researchCfg, clients.NewCompletion(model, cfg.Sampling()), search)
			engine.OnStateUpdate = func(s research.ResearchState) {
				slog.Debug("State updated", "stage", s.Stage.String(), "loop", s.LoopCount)
			}

			slog.Info("Starting research", "topic", topic, "max_loops", researchCfg.MaxLoops, "search", provider)
			report, err := engine.Run(ctx, topic)
			if err != nil {
				return fmt.Errorf("research failed: %w", err)
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, []byte(report+"\n"), 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				slog.Info("Report written", "path", outputPath)
				return nil
			}
			fmt.Println(report)
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVar(&maxLoops, "max-loops", cfg.MaxResearchLoops, "Number of follow-up searches after the first one")
	rootCmd.Flags().StringVar(&provider, "provider", cfg.SearchProvider, "Search provider (tavily or arxiv)")
	rootCmd.Flags().BoolVar(&fullPage, "fetch-full-page", cfg.FetchFullPage, "Include each source's full page text in the summarization context")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to this file instead of stdout")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
