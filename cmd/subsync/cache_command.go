package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"subsync/internal/ident"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local result cache",
	}
	cacheCmd.AddCommand(newCacheShowCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))
	return cacheCmd
}

func newCacheShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List cached results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheStore, err := ctx.openCache()
			if err != nil {
				return err
			}
			defer cacheStore.Close()

			entries, err := cacheStore.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				target := entry.TargetLang
				if target == "" {
					target = "-"
				}
				detected := entry.DetectedLang
				if detected == "" {
					detected = "-"
				}
				rows = append(rows, []string{
					entry.MediaID,
					entry.SourceLang,
					target,
					detected,
					fmt.Sprintf("%d", entry.SegmentCount),
					entry.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			headers := []string{"Media", "Source", "Target", "Detected", "Segments", "Updated"}
			if stdoutIsTerminal() {
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			}
			for _, row := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(row, "\t"))
			}
			return nil
		},
	}
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "invalidate [url|file|video-id]",
		Short: "Remove cached results for a media identity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheStore, err := ctx.openCache()
			if err != nil {
				return err
			}
			defer cacheStore.Close()

			if all {
				entries, err := cacheStore.List(cmd.Context())
				if err != nil {
					return err
				}
				var removed int64
				seen := map[string]struct{}{}
				for _, entry := range entries {
					if _, done := seen[entry.MediaID]; done {
						continue
					}
					seen[entry.MediaID] = struct{}{}
					n, err := cacheStore.Invalidate(cmd.Context(), entry.MediaID)
					if err != nil {
						return err
					}
					removed += n
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached results.\n", removed)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("a media reference is required unless --all is given")
			}
			ref, err := ident.Parse(args[0])
			if err != nil {
				return err
			}
			removed, err := cacheStore.Invalidate(cmd.Context(), ref.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached results for %s.\n", removed, ref.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every cached result")
	return cmd
}
