package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askTopK int
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the knowledge base",
	Long: `Retrieve the most relevant chunks for the question and generate a
grounded answer with page-level source citations.

Examples:
  pdfrag ask "what is the warranty period"
  pdfrag ask "summarize chapter 3" --top-k 10 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	ans, err := eng.Ask(question, askTopK)
	if err != nil {
		return fmt.Errorf("failed to answer: %w", err)
	}

	if askJSON {
		output, _ := json.MarshalIndent(ans, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range ans.Sources {
			fmt.Printf("  - %s, page %d\n", s.Filename, s.Page)
		}
	}
	return nil
}
