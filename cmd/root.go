package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-matcher",
	Short: "Face recognition service that matches faces against enrolled identities",
	Long: `Face Matcher accepts images over HTTP, asks a face embedding service for the
faces they contain and matches each face against a registry of enrolled
identities by Euclidean distance. Identities can be persisted to PostgreSQL
(pgvector) and seeded from a YAML file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
