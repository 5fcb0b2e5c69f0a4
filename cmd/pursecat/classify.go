package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ohvee/pursecat/internal/engine"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [purchase-id...]",
		Short: "Categorize purchases",
		Long: `Classify assigns a category to each purchase. In hybrid mode a purchase is
first matched against the vector index; only purchases without a convincing
nearest-neighbor majority are sent to the chat model. In rag mode everything
goes to the chat model.

Examples:
  pursecat classify --owner alice p1 p2 p3
  pursecat classify --owner alice --mode rag p1
  pursecat classify --owner alice --apply p1 p2`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().StringP("owner", "o", "", "owner whose categories are used (required)")
	cmd.Flags().StringP("mode", "m", "hybrid", "classification mode (hybrid, rag)")
	cmd.Flags().Bool("apply", false, "persist assignments to the database")
	_ = cmd.MarkFlagRequired("owner")

	_ = viper.BindPFlag("classification.owner", cmd.Flags().Lookup("owner"))
	_ = viper.BindPFlag("classification.mode", cmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("classification.apply", cmd.Flags().Lookup("apply"))

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner := viper.GetString("classification.owner")
	apply := viper.GetBool("classification.apply")

	mode, err := engine.ParseMode(viper.GetString("classification.mode"))
	if err != nil {
		return err
	}

	db, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	store, closeStore, err := buildVectorStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	providers, err := buildProviders()
	if err != nil {
		return err
	}

	similarity, err := engine.NewSimilarityClassifier(providers.Embedding, store, engine.SimilarityConfig{})
	if err != nil {
		return err
	}
	rag, err := engine.NewRagClassifier(providers.Embedding, providers.Chat, store, engine.RagConfig{})
	if err != nil {
		return err
	}
	eng := engine.NewEngine(db, db, similarity, rag, 0)

	purchases, err := eng.ClassifyIDs(ctx, owner, args, mode)
	if err != nil {
		return err
	}

	for _, p := range purchases {
		if !p.Categorized() {
			fmt.Printf("%s  %q unresolved\n", p.ID, p.Name)
			continue
		}
		fmt.Printf("%s  %q -> %s\n", p.ID, p.Name, p.CategoryID)
		if apply {
			if err := db.UpdatePurchaseCategory(ctx, p.ID, p.CategoryID); err != nil {
				return err
			}
		}
	}
	return nil
}
