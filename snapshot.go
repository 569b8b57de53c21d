package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/marcus-crane/billboard/config"
	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/resources"
	"github.com/marcus-crane/billboard/slides"
)

func newSnapshotCommand(configPath *string) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch and process the playlist once, saving each slide as a PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runSnapshot(cmd.Context(), cfg, outDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "snapshot", "Directory to write slide images to")
	return cmd
}

func runSnapshot(ctx context.Context, cfg config.Config, outDir string, out io.Writer) error {
	registry := resources.NewRegistry()
	defer registry.ReleaseAll()

	svc := newServices(&cfg, registry)
	doc, err := svc.client.FetchDocument(ctx, cfg.PlaylistID())
	if err != nil {
		return fmt.Errorf("failed to fetch playlist %s: %w", cfg.PlaylistID(), err)
	}
	list := svc.processor.Process(ctx, doc)
	defer slides.ReleaseAll(list)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Name", "Kind", "Duration", "Transition", "Overlays", "Colours", "Image"})
	for i, s := range list {
		frame, err := snapshotFrame(s, cfg.Display.Width, cfg.Display.Height)
		path := ""
		if err != nil {
			slog.Warn("Could not render slide", slog.String("slide", s.ID), slog.String("error", err.Error()))
		} else {
			path = filepath.Join(outDir, fmt.Sprintf("%02d-%s.png", i, sanitize(s.ID)))
			if err := writePNG(path, frame); err != nil {
				return err
			}
		}
		tw.AppendRow(table.Row{
			i,
			s.Name,
			s.Kind,
			s.Duration,
			s.Transition,
			len(s.Layers),
			strings.Join(s.DominantColours, " "),
			path,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d playable", len(list), len(doc.Slides)+doc.Skipped)})

	_, err = fmt.Fprintln(out, tw.Render())
	return err
}

// snapshotFrame draws a slide the way it looks when it first appears,
// with scrolling text parked at its anchor.
func snapshotFrame(s *slides.Slide, width, height int) (*image.RGBA, error) {
	frame := media.NewCanvas(width, height)
	switch {
	case s.Kind == models.KindVideo:
		dec, err := media.OpenGst(s.VideoPath, width, height)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		first, err := dec.Next()
		if err != nil {
			return nil, err
		}
		media.CopyInto(frame, media.Letterbox(first, width, height))
	case s.Base != nil:
		media.CopyInto(frame, s.Base)
	}
	for _, l := range s.Layers {
		if l.Surface.Image == nil {
			continue
		}
		media.Composite(frame, l.Surface.Image, l.Anchor.Place(l.Surface.Bounds().Size(), width, height))
	}
	return frame, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		slog.Debug("Wrote slide image", slog.String("path", path), slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
