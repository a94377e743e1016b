package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"subsync/internal/ident"
	"subsync/internal/subtitle"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var language string
	var targetLang string
	var output string

	cmd := &cobra.Command{
		Use:   "export <url|file|video-id>",
		Short: "Export cached subtitles as an SRT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(ctx, cmd, args[0], language, targetLang, output)
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Source language the result was generated with")
	cmd.Flags().StringVarP(&targetLang, "target-lang", "t", "", "Translation target language the result was generated with")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (\"-\" for stdout; defaults to the export directory)")

	return cmd
}

func runExport(cctx *commandContext, cmd *cobra.Command, media, language, targetLang, output string) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	ref, err := ident.Parse(media)
	if err != nil {
		return err
	}

	cacheStore, err := cctx.openCache()
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	source, target := cacheKeyLanguages(cfg, language, targetLang)
	entry, err := cacheStore.Get(cmd.Context(), ref.ID, source, target)
	if err != nil {
		return fmt.Errorf("%w (generate it first with 'subsync generate')", err)
	}

	if output == "-" {
		return subtitle.WriteSRT(cmd.OutOrStdout(), entry.Segments)
	}
	path, err := exportPath(cfg.Paths.ExportDir, ref.ID, output)
	if err != nil {
		return err
	}
	if err := writeSRTFile(path, entry.Segments); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d segments)\n", path, len(entry.Segments))
	return nil
}

// exportPath resolves the target file: an explicit output wins, otherwise
// the media identity names a file in the export directory.
func exportPath(exportDir, mediaID, output string) (string, error) {
	if strings.TrimSpace(output) != "" {
		return output, nil
	}
	if strings.TrimSpace(exportDir) == "" {
		return "", fmt.Errorf("no output path given and no export directory configured")
	}
	return filepath.Join(exportDir, mediaID+".srt"), nil
}

func writeSRTFile(path string, segments []subtitle.Segment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer file.Close()
	if err := subtitle.WriteSRT(file, segments); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}
