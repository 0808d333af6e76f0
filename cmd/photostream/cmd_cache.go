package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheGetCmd, cacheRemoveCmd, cachePruneCmd)
	cachePruneCmd.Flags().Duration("older-than", 0, "remove images cached longer ago than this (default cache.max_age_hours)")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the image cache",
}

func parsePhotoID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid photo id %q", s)
	}
	return id, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cache, closeCache, err := openCache(ctx, loadConfig())
		if err != nil {
			return err
		}
		defer closeCache()

		entries, err := cache.List(ctx)
		if err != nil {
			return fmt.Errorf("list cache: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Cache is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PHOTO\tFORMAT\tSIZE\tDIMENSIONS\tCACHED")
		for _, e := range entries {
			dims := "-"
			if e.Width > 0 {
				dims = fmt.Sprintf("%dx%d", e.Width, e.Height)
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				e.PhotoID,
				e.Format,
				e.Size,
				dims,
				e.CachedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <photo-id> <out-file>",
	Short: "Copy a cached image to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePhotoID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cache, closeCache, err := openCache(ctx, loadConfig())
		if err != nil {
			return err
		}
		defer closeCache()

		data, err := cache.Image(ctx, id)
		if err != nil {
			return fmt.Errorf("photo %d: %w", id, err)
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Wrote %d bytes to %s.\n", len(data), args[1])
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "rm <photo-id|all>",
	Short: "Remove a cached image or all of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cache, closeCache, err := openCache(ctx, loadConfig())
		if err != nil {
			return err
		}
		defer closeCache()

		if args[0] == "all" {
			n, err := cache.Prune(ctx, time.Now().Add(time.Hour))
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Removed %d cached images.\n", n)
			return nil
		}

		id, err := parsePhotoID(args[0])
		if err != nil {
			return err
		}
		if err := cache.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Photo %d removed from cache.\n", id)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove images older than the configured maximum age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		age, _ := cmd.Flags().GetDuration("older-than")
		if age <= 0 {
			age = cfg.MaxAge()
		}
		if age <= 0 {
			return fmt.Errorf("no maximum age configured; pass --older-than")
		}

		ctx := cmd.Context()
		cache, closeCache, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		n, err := cache.Prune(ctx, time.Now().Add(-age))
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Removed %d cached images older than %s.\n", n, age)
		return nil
	},
}
