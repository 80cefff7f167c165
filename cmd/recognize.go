package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/web/handlers"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize IMAGE",
	Short: "Recognize the faces in a local image",
	Long: `Detect the faces in an image and match them against the enrolled identities.
Identities are loaded the same way as by the server.

Examples:
  face-matcher recognize photo.jpg
  face-matcher recognize photo.jpg --threshold 0.5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Maximum match distance (default MATCH_THRESHOLD)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	threshold := mustGetFloat64(cmd, "threshold")
	if threshold < 0 {
		return fmt.Errorf("--threshold must not be negative")
	}
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), appOptions{loadSeed: true, threshold: threshold, readOnly: true})
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.recognizer.RecognizeImage(ctx, data)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(handlers.NewRecognizeResponse(results))
	}

	if len(results) == 0 {
		fmt.Println("No known faces recognized.")
		return nil
	}
	fmt.Printf("Recognized %d face(s):\n", len(results))
	for _, res := range results {
		label := res.ID
		if res.Name != "" {
			label = fmt.Sprintf("%s (%s)", res.ID, res.Name)
		}
		fmt.Printf("  %-40s confidence %.3f, distance %.3f\n", label, res.Confidence, res.Distance)
	}
	return nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
