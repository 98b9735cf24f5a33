package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"pdfrag/internal/domain"
)

var docsJSON bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	Long: `List every document in the knowledge base in upload order, with its
id, page count, and chunk count.`,
	RunE: runDocs,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a document from the knowledge base",
	Long: `Delete a document and all of its indexed chunks. The document id is
shown by 'pdfrag docs'. Deleted content stops appearing in answers
immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(deleteCmd)
	docsCmd.Flags().BoolVar(&docsJSON, "json", false, "output as JSON")
}

func runDocs(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	docs := eng.Documents()

	if docsJSON {
		output, _ := json.MarshalIndent(docs, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(docs) == 0 {
		fmt.Println("No documents in the knowledge base.")
		return nil
	}

	for _, d := range docs {
		fmt.Printf("%s  %s\n", d.ID, d.Filename)
		fmt.Printf("    uploaded %s, %d pages, %d chunks\n",
			d.UploadedAt.Format("2006-01-02 15:04"), d.NumPages, d.NumChunks)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	docID := args[0]
	if err := eng.Delete(docID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("no document with id %s", docID)
		}
		return fmt.Errorf("failed to delete: %w", err)
	}

	fmt.Printf("Deleted %s\n", docID)
	return nil
}
