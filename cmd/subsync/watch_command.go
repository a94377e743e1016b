package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"subsync/internal/ident"
	"subsync/internal/playback"
	"subsync/internal/subtitle"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var language string
	var targetLang string
	var from float64

	cmd := &cobra.Command{
		Use:   "watch <url|file|video-id>",
		Short: "Replay cached subtitles against a live clock",
		Long: `Watch binds the playback synchronizer to a wall clock and prints each
subtitle as its interval becomes active, the same way a player overlay
would. Useful for checking timing without a video player.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(ctx, cmd, args[0], language, targetLang, from)
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Source language the result was generated with")
	cmd.Flags().StringVarP(&targetLang, "target-lang", "t", "", "Translation target language the result was generated with")
	cmd.Flags().Float64Var(&from, "from", 0, "Playback position to start from, in seconds")

	return cmd
}

func runWatch(cctx *commandContext, cmd *cobra.Command, media, language, targetLang string, from float64) error {
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

	store := subtitle.NewStore()
	if err := store.Replace(entry.Segments); err != nil {
		return err
	}

	display := &consoleDisplay{out: cmd.OutOrStdout(), bilingual: cfg.Display.ShowBilingual}
	sync := playback.NewSynchronizer(store, display, cctx.ensureLogger())
	sync.SetVisible(cfg.Display.Visible)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	end := entry.Segments[len(entry.Segments)-1].End
	fmt.Fprintf(cmd.OutOrStdout(), "Replaying %d segments from %.1fs to %.1fs (ctrl-c to stop)\n", len(entry.Segments), from, end)

	clock := &wallClock{start: time.Now(), offset: from}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Follow(runCtx, clock, cfg.MinRedraw())
	}()

	select {
	case <-runCtx.Done():
	case <-time.After(time.Duration((end-from)*float64(time.Second)) + time.Second):
	}
	cancel()
	<-done
	return nil
}

type wallClock struct {
	start  time.Time
	offset float64
}

func (c *wallClock) Now() float64 {
	return c.offset + time.Since(c.start).Seconds()
}

type consoleDisplay struct {
	out       io.Writer
	bilingual bool
}

func (d *consoleDisplay) Show(index int, segment subtitle.Segment) {
	fmt.Fprintf(d.out, "[%s] %s\n", subtitle.FormatTimestamp(segment.Start), segment.Text)
	if d.bilingual && segment.Translation != "" {
		fmt.Fprintf(d.out, "%*s%s\n", len(subtitle.FormatTimestamp(segment.Start))+3, "", segment.Translation)
	}
}

func (d *consoleDisplay) Hide() {}
