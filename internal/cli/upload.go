package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"pdfrag/internal/domain"
	"pdfrag/internal/usecase"
)

var uploadOnDuplicate string

var uploadCmd = &cobra.Command{
	Use:   "upload <file|pattern>...",
	Short: "Upload PDF documents into the knowledge base",
	Long: `Upload one or more PDF files. Glob patterns are expanded, including
** for recursive matching. Files whose content is already in the knowledge
base stall on a duplicate conflict; by default you are asked how to resolve
each one.

Examples:
  pdfrag upload report.pdf
  pdfrag upload "docs/**/*.pdf"
  pdfrag upload scans/*.pdf --on-duplicate skip`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadOnDuplicate, "on-duplicate", "ask",
		"duplicate handling: ask, skip, replace, use-existing")
}

func runUpload(cmd *cobra.Command, args []string) error {
	files, err := expandPatterns(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match the given patterns")
	}

	eng, err := openEngine(GetConfig())
	if err != nil {
		return err
	}
	defer eng.Close()

	var bar *progressbar.ProgressBar
	if len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Uploading[reset]"),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	counts := make(map[domain.UploadStatus]int)
	for i, path := range files {
		res, err := uploadOne(cmd, eng, path)
		if err != nil {
			fmt.Printf("  %s: %v\n", filepath.Base(path), err)
			counts[domain.StatusError]++
		} else {
			counts[res.Status]++
		}
		if bar != nil {
			bar.Set(i + 1)
		}
	}

	fmt.Printf("\nUpload complete:\n")
	fmt.Printf("  Ingested:   %d\n", counts[domain.StatusSuccess])
	if counts[domain.StatusDuplicate] > 0 {
		fmt.Printf("  Duplicates: %d (skipped)\n", counts[domain.StatusDuplicate])
	}
	if counts[domain.StatusCancelled] > 0 {
		fmt.Printf("  Cancelled:  %d\n", counts[domain.StatusCancelled])
	}
	if counts[domain.StatusEmpty] > 0 {
		fmt.Printf("  No text:    %d\n", counts[domain.StatusEmpty])
	}
	if counts[domain.StatusError] > 0 {
		fmt.Printf("  Failed:     %d\n", counts[domain.StatusError])
	}
	return nil
}

func uploadOne(cmd *cobra.Command, eng *usecase.Engine, path string) (domain.UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.UploadResult{}, err
	}

	res, err := eng.Upload(cmd.Context(), filepath.Base(path), data)
	if err != nil {
		return res, err
	}
	if res.Status != domain.StatusDuplicate {
		return res, nil
	}

	action, skip := duplicateAction(res)
	if skip {
		fmt.Printf("  %s: already in the knowledge base as %q, skipped\n",
			res.Filename, res.ExistingFilename)
		return res, nil
	}

	resolved, err := eng.Resolve(cmd.Context(), res.Token, data, action)
	if err != nil {
		return resolved, err
	}
	return resolved, nil
}

// duplicateAction maps the --on-duplicate flag (or an interactive prompt)
// to a resolve action. skip leaves the conflict unresolved.
func duplicateAction(res domain.UploadResult) (action domain.ResolveAction, skip bool) {
	choice := uploadOnDuplicate
	if choice == "ask" {
		choice = promptDuplicate(res)
	}

	switch choice {
	case "replace":
		return domain.ActionReplace, false
	case "use-existing":
		return domain.ActionUseExisting, false
	case "cancel":
		return domain.ActionCancel, false
	default:
		return "", true
	}
}

func promptDuplicate(res domain.UploadResult) string {
	fmt.Printf("\n%s has the same content as %q already in the knowledge base.\n",
		res.Filename, res.ExistingFilename)
	fmt.Print("  [s]kip, [r]eplace, [u]se existing? ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "skip"
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "replace":
		return "replace"
	case "u", "use", "use-existing":
		return "use-existing"
	default:
		return "skip"
	}
}

// expandPatterns resolves arguments to files, expanding doublestar globs.
// Literal paths are passed through so a missing file is reported as an
// error instead of silently matching nothing.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			if !seen[pattern] {
				seen[pattern] = true
				files = append(files, pattern)
			}
			continue
		}

		base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
		matches, err := doublestar.Glob(os.DirFS(base), rest)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			full := filepath.Join(base, filepath.FromSlash(m))
			if !seen[full] {
				seen[full] = true
				files = append(files, full)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
