package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey/mail-classifier/internal/adapters/store"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/di"
	"github.com/mikey/mail-classifier/internal/metrics"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/statistical"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the statistical classifier from recorded outcomes",
	Long: `Train builds a new model from the action-labeled classification history,
applies queued feedback, validates the result and saves it to
statistical.model_path. The daemon picks the model up on restart.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare recent outcomes with the trained model's distribution",
	Args:  cobra.NoArgs,
	RunE:  runDrift,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback --correct CATEGORY --rating N",
	Short: "Queue a correction for the next training cycle",
	Args:  cobra.NoArgs,
	RunE:  runFeedback,
}

func init() {
	trainCmd.Flags().Int("min-samples", 0, "minimum samples per action (default statistical.min_samples)")
	trainCmd.Flags().Bool("json", false, "print the training report as JSON")

	driftCmd.Flags().Duration("since", 30*24*time.Hour, "window of recent outcomes to compare")
	driftCmd.Flags().Float64("threshold", 0, "distance that calls for retraining (default statistical.drift_threshold)")

	feedbackCmd.Flags().String("sender", "", "sender of the misclassified message")
	feedbackCmd.Flags().String("subject", "", "subject of the misclassified message")
	feedbackCmd.Flags().String("predicted", "", "category the classifier assigned")
	feedbackCmd.Flags().String("correct", "", "category the message should have received")
	feedbackCmd.Flags().Int("rating", 3, "confidence in the correction, 1-5")
	_ = feedbackCmd.MarkFlagRequired("correct")
}

func runTrain(cmd *cobra.Command, args []string) error {
	minSamples, _ := cmd.Flags().GetInt("min-samples")
	asJSON, _ := cmd.Flags().GetBool("json")

	return invoke(cmd, nil, func(trainer *statistical.Trainer, cfg *config.Config) error {
		if minSamples <= 0 {
			minSamples = cfg.GetStatistical().MinSamples
		}
		report, err := trainer.Train(cmd.Context(), minSamples)
		if report != nil {
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			} else {
				printTrainingReport(report)
			}
		}
		return err
	})
}

func printTrainingReport(r *statistical.TrainingReport) {
	labelColor.Printf("Model %s\n", r.Version)
	fmt.Printf("Samples: %d (deleted %d, preserved %d, feedback applied %d)\n",
		r.Samples, r.Deleted, r.Preserved, r.FeedbackApplied)
	b := r.Binary
	fmt.Printf("Spam: accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f auc=%.3f support=%d\n",
		b.Accuracy, b.Precision, b.Recall, b.F1, b.AUC, b.Support)
	if c := r.Category; c != nil {
		fmt.Printf("Category: accuracy=%.3f macro_f1=%.3f weighted_f1=%.3f\n", c.Accuracy, c.MacroF1, c.WeightedF1)
	} else {
		warnColor.Println("Category model not trained")
	}
	printCounts("Categories", r.Categories)
	printCounts("Dropped", r.Dropped)
	fmt.Printf("Clusters: %d purity=%.3f\n", r.Clusters, r.ClusterPurity)
	fmt.Printf("Duration: %v\n", r.Duration)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, counts[k])
	}
}

func runDrift(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	return invoke(cmd, nil, func(st *store.Store, holder *patterns.Holder, classifier *statistical.Classifier, cfg *config.Config) error {
		if st == nil {
			return di.ErrNoStore
		}
		if threshold <= 0 {
			threshold = cfg.GetStatistical().DriftThreshold
		}
		records, err := st.ClassificationsSince(cmd.Context(), time.Now().Add(-since))
		if err != nil {
			return err
		}
		current := statistical.Distribution(records, holder.Current(), classifier.Current())
		report, err := classifier.DriftCheck(current, threshold)
		if err != nil {
			return err
		}

		fmt.Printf("Outcomes since %s: %d\n", time.Now().Add(-since).Format(time.DateOnly), len(records))
		fmt.Printf("Distance: %.3f (threshold %.3f)\n", report.Distance, threshold)
		if report.NeedsRetraining {
			warnColor.Println("Retraining recommended")
		} else {
			okColor.Println("Model distribution is current")
		}
		return nil
	})
}

func runFeedback(cmd *cobra.Command, args []string) error {
	sender, _ := cmd.Flags().GetString("sender")
	subject, _ := cmd.Flags().GetString("subject")
	predicted, _ := cmd.Flags().GetString("predicted")
	correct, _ := cmd.Flags().GetString("correct")
	rating, _ := cmd.Flags().GetInt("rating")

	return invoke(cmd, nil, func(engine *core.Engine, cfg *config.Config) error {
		fb, err := engine.RecordFeedback(cmd.Context(), sender, subject, predicted, correct, rating)
		if err != nil {
			return err
		}
		metrics.IncrementFeedback(cfg.GetFeedback().Sink)
		okColor.Printf("Queued feedback %s\n", fb.ID)
		fmt.Printf("%s -> %s (rating %d)\n", fb.PredictedCategory, fb.CorrectCategory, fb.ConfidenceRating)
		return nil
	})
}
