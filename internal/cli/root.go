package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"pdfrag/config"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "pdfrag",
	Short: "PDF knowledge base - upload documents and ask questions",
	Long: `pdfrag maintains a persistent knowledge base built from PDF documents.
Uploaded PDFs are chunked, embedded, and indexed; questions are answered
from the indexed content with page-level source citations.

Example usage:
  pdfrag upload report.pdf manuals/*.pdf   # Ingest documents
  pdfrag ask "what is the warranty period" # Query the knowledge base
  pdfrag docs                              # List ingested documents`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if !filepath.IsAbs(cfg.Storage.Dir) {
			cfg.Storage.Dir = filepath.Join(rootDir, cfg.Storage.Dir)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pdfrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}
