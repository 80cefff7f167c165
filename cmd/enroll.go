package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/seed"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [image]",
	Short: "Enroll known faces into PostgreSQL",
	Long: `Enroll a single face from an image, or every face listed in a YAML manifest.

Single image (the image must contain exactly one face):
  face-matcher enroll --id s-001 --name "Jan Novák" photos/jan.jpg

Manifest:
  face-matcher enroll --manifest faces.yaml --concurrency 4

A running server picks up new identities after a restart.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Identity id (generated when empty)")
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().String("manifest", "", "YAML file listing faces to enroll")
	enrollCmd.Flags().Int("concurrency", 4, "Number of parallel enrollments for --manifest")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	manifest := mustGetString(cmd, "manifest")
	if (manifest == "") == (len(args) == 0) {
		return errors.New("provide either an image or --manifest")
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), appOptions{requireDatabase: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if manifest != "" {
		return enrollManifest(ctx, a, manifest, mustGetInt(cmd, "concurrency"))
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	face, err := a.recognizer.Enroll(ctx, mustGetString(cmd, "id"), mustGetString(cmd, "name"), data)
	if err != nil {
		return fmt.Errorf("failed to enroll %s: %w", args[0], err)
	}

	fmt.Printf("Enrolled %s", face.ID)
	if face.Name != "" {
		fmt.Printf(" (%s)", face.Name)
	}
	fmt.Printf(", %d-dimensional embedding\n", len(face.Embedding))
	return nil
}

func enrollManifest(ctx context.Context, a *app, path string, concurrency int) error {
	file, err := seed.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	if len(file.Faces) == 0 {
		fmt.Println("Manifest lists no faces.")
		return nil
	}

	fmt.Printf("Enrolling %d faces with concurrency %d...\n\n", len(file.Faces), concurrency)
	bar := progressbar.NewOptions(len(file.Faces),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	report := seed.Apply(ctx, a.recognizer, file.Faces, concurrency, func() {
		bar.Add(1)
	})
	fmt.Println()

	fmt.Printf("\nEnrolled: %d\n", report.Enrolled)
	fmt.Printf("Already registered: %d\n", report.Skipped)
	if len(report.Errors) > 0 {
		fmt.Printf("\nErrors: %d\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  - %v\n", e)
		}
		return fmt.Errorf("%d faces failed to enroll", len(report.Errors))
	}
	return nil
}
