package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the index, dropping deleted entries",
	Long: `Rebuild the chunk table and vector index without tombstoned entries.
Compaction also runs automatically when deletions push the tombstoned
fraction past the configured threshold; this command forces it.`,
	RunE: runCompact,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair an inconsistent knowledge base",
	Long: `Restore agreement between the chunk table and the vector index.
Orphaned vectors are dropped; documents whose chunks lost their vectors
are removed entirely and listed for re-upload.`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(repairCmd)
}

func runCompact(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	before := eng.Stats().IndexSize
	if err := eng.Compact(); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}

	fmt.Printf("Compacted: %d active entries\n", before)
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.Repair()
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	fmt.Printf("Repair complete:\n")
	fmt.Printf("  Orphaned vectors dropped: %d\n", report.DroppedVectors)
	fmt.Printf("  Documents removed:        %d\n", len(report.RemovedDocuments))
	for _, d := range report.RemovedDocuments {
		fmt.Printf("    - %s (%s): re-upload to restore\n", d.Filename, d.ID)
	}
	return nil
}
