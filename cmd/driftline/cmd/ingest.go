package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/chunk"
	"github.com/driftline/driftline/internal/store"
)

func newIngestCmd() *cobra.Command {
	var (
		spaceID int64
		title   string
	)

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a file (or stdin) into a search space",
		Long: `Reads the given file, or stdin when no file is named, chunks the
content, and stores it as a document in the search space.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content []byte
				err     error
				docType = store.DocumentTypeFile
			)

			if len(args) == 1 {
				content, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				if title == "" {
					title = filepath.Base(args[0])
				}
			} else {
				content, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				if title == "" {
					title = "stdin"
				}
				docType = store.DocumentTypeExtension
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			chunks := chunk.New().Split(string(content))
			if len(chunks) == 0 {
				return fmt.Errorf("no indexable content")
			}

			docID, err := a.store.CreateDocumentWithChunks(cmd.Context(), store.CreateDocumentInput{
				SearchSpaceID: spaceID,
				Type:          docType,
				Title:         title,
				Content:       string(content),
				ChunkTexts:    chunks,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested document %d (%d chunks) into space %d\n",
				docID, len(chunks), spaceID)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&spaceID, "space", "s", 0, "Target search space id (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (default: file name)")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}
