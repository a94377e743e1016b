package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"subsync/internal/ident"
	"subsync/internal/pipeline"
	"subsync/internal/subtitle"
	"subsync/internal/transcribe"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var language string
	var targetLang string
	var output string
	var noCache bool

	cmd := &cobra.Command{
		Use:   "generate <url|file|video-id>",
		Short: "Generate subtitles for a media reference",
		Long: `Generate submits a transcription job for a video URL, a local media
file, or a bare video ID and follows it to completion. Playlist URLs are
submitted as a batch; per-item results land in the service cache.

Previously completed results are served from the local cache unless
--no-cache is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(ctx, cmd, args[0], language, targetLang, output, noCache)
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Source language (default from config, \"auto\" detects)")
	cmd.Flags().StringVarP(&targetLang, "target-lang", "t", "", "Translation target language")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the result as SRT to this path (\"-\" for stdout)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip cache lookups and force a fresh generation")

	return cmd
}

func runGenerate(cctx *commandContext, cmd *cobra.Command, media, language, targetLang, output string, noCache bool) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := cctx.ensureLogger()

	ref, err := ident.Parse(media)
	if err != nil {
		return err
	}

	client, err := cctx.serviceClient()
	if err != nil {
		return err
	}
	settings, err := transcribe.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	if language != "" {
		settings.Language = language
	}
	if targetLang != "" {
		settings.TargetLanguage = targetLang
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ref.Kind == ident.KindPlaylist {
		if err := client.SubmitPlaylist(ctx, ref, settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Playlist %s submitted; results will appear in the service cache per item.\n", ref.ID)
		return nil
	}

	cacheStore, err := cctx.openCache()
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	tracker, err := cctx.tracker(client)
	if err != nil {
		return err
	}

	store := subtitle.NewStore()
	opts := pipeline.Options{Persister: cacheStore, Logger: logger}
	if !noCache {
		opts.Prober = client
	}
	orch := pipeline.New(client, tracker, store, opts)

	if !noCache {
		if entry, err := cacheStore.Get(ctx, ref.ID, settings.Language, settings.TargetLanguage); err == nil {
			if err := orch.LoadResult(ctx, ref, settings, entry.Segments, entry.DetectedLang); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d segments from cache for %s.\n", len(entry.Segments), ref.ID)
				return writeResult(cmd, cfg.Paths.ExportDir, ref, store, output)
			}
		}
	}

	cached, err := orch.GenerateOrCached(ctx, ref, settings)
	if err != nil {
		return err
	}
	if !cached {
		if err := followGeneration(ctx, cmd, orch); err != nil {
			return err
		}
	}

	snap := orch.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d segments for %s", store.Len(), ref.ID)
	if snap.DetectedLanguage != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (detected language %s)", snap.DetectedLanguage)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return writeResult(cmd, cfg.Paths.ExportDir, ref, store, output)
}

// followGeneration waits for the pipeline to settle, rendering a progress
// bar on a terminal.
func followGeneration(ctx context.Context, cmd *cobra.Command, orch *pipeline.Orchestrator) error {
	var bar *progressbar.ProgressBar
	if stdoutIsTerminal() {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("generating"),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			orch.Cancel()
			if bar != nil {
				_ = bar.Clear()
			}
			return errors.New("generation cancelled")
		case <-ticker.C:
		}

		snap := orch.Status()
		if bar != nil {
			_ = bar.Set(snap.Progress)
		}
		switch snap.Phase {
		case pipeline.PhaseReady:
			if bar != nil {
				_ = bar.Finish()
			}
			return nil
		case pipeline.PhaseError:
			if bar != nil {
				_ = bar.Clear()
			}
			if snap.Err != nil {
				return snap.Err
			}
			return errors.New(snap.Message)
		}
	}
}

func writeResult(cmd *cobra.Command, exportDir string, ref ident.MediaRef, store *subtitle.Store, output string) error {
	if output == "" {
		return nil
	}
	segments := store.Snapshot()
	if output == "-" {
		return subtitle.WriteSRT(cmd.OutOrStdout(), segments)
	}
	path, err := exportPath(exportDir, ref.ID, output)
	if err != nil {
		return err
	}
	if err := writeSRTFile(path, segments); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
