package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/darkmode-go/internal/darkmode"
	"github.com/Rorqualx/darkmode-go/internal/dom/htmldoc"
	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/pkg/version"
)

// newRenderCmd themes an HTML file offline and writes the result, without
// a browser. A path of "-" reads standard input.
func newRenderCmd() *cobra.Command {
	var (
		opts    renderOptions
		output  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "render [flags] page.html",
		Short: "Theme an HTML file offline",
		Long:  `Parse an HTML document, turn dark mode on as the service would for a live page, and write the themed document.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			if !verbose {
				log.Logger = log.Logger.Level(zerolog.WarnLevel)
			}

			in := cmd.InOrStdin()
			if path := args[0]; path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			if err := render(cmd.Context(), in, out, opts); err != nil {
				return fmt.Errorf("render: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "https://example.com/", "URL the document is treated as coming from")
	f.BoolVar(&opts.Extreme, "extreme", false, "enable extreme mode")
	f.StringVar(&opts.Preset, "preset", "", "theme preset to apply")
	f.DurationVar(&opts.Settle, "settle", 500*time.Millisecond, "time to let queued rewrites drain")
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	f.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	return cmd
}

type renderOptions struct {
	URL     string
	Extreme bool
	Preset  string
	Settle  time.Duration
}

// render parses in, turns dark mode on and writes the themed document.
func render(ctx context.Context, in io.Reader, out io.Writer, opts renderOptions) error {
	doc, err := htmldoc.Parse(opts.URL, in)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l := loop.New(nil)
	go func() { _ = l.Run(ctx) }()

	var c *darkmode.Controller
	err = l.Do(ctx, func() error {
		c = darkmode.New(ctx, doc, l, darkmode.Options{
			Store:    storage.NewMemory(),
			Location: time.Local,
			Version:  version.Full(),
		})
		if err := c.Start(ctx); err != nil {
			return err
		}
		if opts.Preset != "" {
			if err := c.ApplyPreset(ctx, opts.Preset); err != nil {
				return err
			}
		}
		if err := c.SetDarkMode(ctx, true); err != nil {
			return err
		}
		if opts.Extreme {
			return c.SetExtremeMode(ctx, true)
		}
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case <-time.After(opts.Settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	return l.Do(ctx, func() error {
		return doc.Render(out)
	})
}
