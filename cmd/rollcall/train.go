package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the face model from all stored samples",
	Long: `Train the face model from every stored sample. The new model replaces the
previous one atomically; with no samples the previous model is kept.
A running 'rollcall serve' picks it up through POST /api/model/reload.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	samples, err := openSamples()
	if err != nil {
		return err
	}
	newClassifier, modelPath, err := classifierFactory()
	if err != nil {
		return err
	}

	trainer := &training.Trainer{
		Samples:       samples,
		NewClassifier: newClassifier,
		ModelPath:     modelPath,
	}

	fmt.Println("Training model...")
	sum, err := trainer.Train(context.Background())
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(sum.PerIdentity))
	for id := range sum.PerIdentity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Printf("  student %-6d %d samples\n", id, sum.PerIdentity[id])
	}
	fmt.Printf("Trained on %d samples of %d student(s) in %s.\n", sum.Samples, len(sum.Identities), sum.Duration.Round(time.Millisecond))
	fmt.Printf("Model saved to %s\n", sum.ModelPath)
	return nil
}
