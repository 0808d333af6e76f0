package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/photostream/pkg/photostream"
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().String("url", "", "image URL, absolute or relative to images.base_url")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <photo-id>",
	Short: "Fetch one photo's image into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid photo id %q", args[0])
		}
		imageURL, _ := cmd.Flags().GetString("url")

		cfg := loadConfig()
		setupLogging(cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ImageTimeout())
		defer cancel()

		cache, closeCache, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		loader, err := newLoader(cfg, slog.Default())
		if err != nil {
			return err
		}
		photo := photostream.Photo{ID: id, ImageURL: imageURL}
		target, err := loader.ImageURL(photo)
		if err != nil {
			return err
		}

		loader.Execute(ctx, []photostream.Photo{photo})
		res := loader.Take(ctx)
		switch {
		case res == nil:
			return fmt.Errorf("fetch %s: %w", target, ctx.Err())
		case res.NotFound:
			return fmt.Errorf("image for photo %d not found at %s", id, target)
		case res.Err != nil:
			return fmt.Errorf("fetch %s: %w", target, res.Err)
		}

		if err := cache.CacheImage(ctx, photo, res.Data); err != nil {
			return fmt.Errorf("cache image: %w", err)
		}
		meta, err := cache.Meta(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Cached photo %d: %s, %d bytes", id, meta.Format, meta.Size)
		if meta.Width > 0 {
			fmt.Fprintf(os.Stdout, ", %dx%d", meta.Width, meta.Height)
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}
