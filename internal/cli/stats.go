package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runStats,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check knowledge base consistency",
	Long: `Open the knowledge base and report whether the chunk table and the
vector index agree. An inconsistent knowledge base stays readable but
refuses uploads and deletes until 'pdfrag repair' is run.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	st := eng.Stats()

	if statsJSON {
		output, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Documents:  %d\n", st.TotalDocuments)
	fmt.Printf("Chunks:     %d\n", st.TotalChunks)
	fmt.Printf("Index size: %d vectors\n", st.IndexSize)
	fmt.Printf("Embedding:  %s (%d dimensions)\n", st.EmbeddingModel, st.EmbeddingDimension)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	if eng.Corrupt() {
		return fmt.Errorf("knowledge base is inconsistent; run 'pdfrag repair'")
	}

	st := eng.Stats()
	fmt.Printf("OK: %d documents, %d chunks, index aligned\n", st.TotalDocuments, st.TotalChunks)
	return nil
}
