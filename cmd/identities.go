package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/postgres"
	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage identities stored in PostgreSQL",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list [ID...]",
	Short: "List enrolled identities",
	Long: `List the identities stored in PostgreSQL in enrollment order.
Pass ids to show only those identities, or --name to filter by name
(case and diacritics insensitive).`,
	RunE: runIdentitiesList,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete enrolled identities",
	Long: `Delete identities from PostgreSQL.
A running server keeps matching deleted identities until it is restarted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIdentitiesDelete,
}

var identitiesNearestCmd = &cobra.Command{
	Use:   "nearest ID",
	Short: "Show the stored identities closest to an identity",
	Long: `Show the stored identities whose embeddings are closest to the given identity,
ordered by Euclidean distance. Useful for spotting the same person enrolled
twice or look-alikes that fall within the match threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitiesNearest,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)
	identitiesCmd.AddCommand(identitiesNearestCmd)

	identitiesNearestCmd.Flags().Int("limit", 5, "Number of neighbours to show")

	identitiesListCmd.Flags().String("name", "", "Only show identities whose name contains this text")
	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentityOutput is the JSON form of a stored identity
type IdentityOutput struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Dim       int    `json:"dim"`
	CreatedAt string `json:"created_at"`
}

func openIdentityStore(ctx context.Context) (*postgres.Pool, *postgres.IdentityRepository, error) {
	cfg := config.Load()
	if !cfg.HasDatabase() {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return openStore(ctx, cfg)
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, store, err := openIdentityStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var identities []database.StoredIdentity
	if len(args) > 0 {
		identities, err = store.GetMany(ctx, args)
	} else {
		identities, err = store.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	identities = filterByName(identities, mustGetString(cmd, "name"))

	if mustGetBool(cmd, "json") {
		out := make([]IdentityOutput, 0, len(identities))
		for _, identity := range identities {
			out = append(out, IdentityOutput{
				ID:        identity.ID,
				Name:      identity.Name,
				Dim:       identity.Dim,
				CreatedAt: identity.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return outputJSON(out)
	}

	if len(identities) == 0 {
		fmt.Println("No identities found.")
		return nil
	}
	fmt.Printf("%-38s %-30s %5s  %s\n", "ID", "NAME", "DIM", "ENROLLED")
	for _, identity := range identities {
		fmt.Printf("%-38s %-30s %5d  %s\n", identity.ID, identity.Name, identity.Dim,
			identity.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d\n", len(identities))
	return nil
}

func filterByName(identities []database.StoredIdentity, name string) []database.StoredIdentity {
	query := matcher.NormalizeName(name)
	if query == "" {
		return identities
	}
	var filtered []database.StoredIdentity
	for _, identity := range identities {
		if strings.Contains(matcher.NormalizeName(identity.Name), query) {
			filtered = append(filtered, identity)
		}
	}
	return filtered
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, store, err := openIdentityStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	deleted := 0
	for _, id := range args {
		ok, err := store.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		if !ok {
			fmt.Printf("  %s: not found\n", id)
			continue
		}
		fmt.Printf("  %s: deleted\n", id)
		deleted++
	}

	fmt.Printf("\nDeleted %d of %d identities\n", deleted, len(args))
	if deleted > 0 {
		fmt.Println("Restart running servers to stop matching the deleted identities.")
	}
	return nil
}

func runIdentitiesNearest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, store, err := openIdentityStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	identity, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		return fmt.Errorf("identity not found: %s", args[0])
	}

	// One extra row for the identity itself.
	neighbours, distances, err := store.FindNearest(ctx, identity.Embedding, mustGetInt(cmd, "limit")+1)
	if err != nil {
		return fmt.Errorf("failed to find nearest identities: %w", err)
	}

	threshold := config.Load().Matcher.Threshold
	fmt.Printf("Nearest identities to %s (%s):\n", identity.ID, identity.Name)
	shown := 0
	for i, n := range neighbours {
		if n.ID == identity.ID {
			continue
		}
		marker := ""
		if distances[i] <= threshold {
			marker = "  (within threshold)"
		}
		fmt.Printf("  %-38s %-30s distance %.4f%s\n", n.ID, n.Name, distances[i], marker)
		shown++
	}
	if shown == 0 {
		fmt.Println("  No other identities with the same dimension.")
	}
	return nil
}
