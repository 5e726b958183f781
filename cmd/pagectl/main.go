// Command pagectl is the operator CLI: it ingests folders of PDFs and inspects
// collections against the same storage the API server uses.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/pagedex/internal/app"
	"github.com/kailas-cloud/pagedex/internal/config"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/loader"
	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
	collectionuc "github.com/kailas-cloud/pagedex/internal/usecase/collection"
	"github.com/kailas-cloud/pagedex/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "collection",
		Aliases:  []string{"c"},
		Usage:    "Collection name",
		Required: true,
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "pagectl",
		Usage:     "Ingest PDF folders and inspect pagedex collections",
		Version:   version.String(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a config file (default: config/<env>.yaml)",
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name used to pick the config file and log format",
				EnvVars: []string{"ENV"},
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Create a collection from every PDF in a folder",
				Action: ingestCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.StringFlag{
						Name:     "dir",
						Aliases:  []string{"d"},
						Usage:    "Folder with the PDF documents",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Pages embedded concurrently (0: use config)",
					},
					&cli.BoolFlag{
						Name:  "append",
						Usage: "Add the documents to an existing collection",
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Search a collection by text",
				Action: searchCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of pages to return (0: use config)",
					},
				},
			},
			{
				Name:   "collections",
				Usage:  "List collections",
				Action: collectionsCommand,
			},
			{
				Name:   "status",
				Usage:  "Show a collection manifest and its stored points",
				Action: statusCommand,
				Flags:  []cli.Flag{collectionFlag()},
			},
			{
				Name:   "delete",
				Usage:  "Delete a collection with its files and points",
				Action: deleteCommand,
				Flags:  []cli.Flag{collectionFlag()},
			},
		},
	}
}

// open loads the configuration named by the global flags and wires the services.
func open(c *cli.Context) (*app.App, error) {
	env := c.String("env")

	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}
	return a, nil
}

func ingestCommand(c *cli.Context) error {
	name := c.String("collection")
	dir := c.String("dir")

	paths, err := loader.ListDocuments(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no PDF documents in %s", dir)
	}

	uploads := make([]collectionuc.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(filepath.Clean(p))
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		defer func() { _ = f.Close() }()
		uploads = append(uploads, collectionuc.Upload{Name: filepath.Base(p), Body: f})
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	errw := c.App.ErrWriter
	fmt.Fprintf(errw, "Ingesting %d documents from %s into %q\n", len(paths), dir, name)

	m, err := a.Collections.Create(c.Context, name, uploads, collectionuc.Options{
		Append:  c.Bool("append"),
		Workers: c.Int("workers"),
		Progress: func(processed, total int) {
			fmt.Fprintf(errw, "\rprocessed %d/%d", processed, total)
		},
	})
	fmt.Fprintln(errw)
	if err != nil {
		if m.Name != "" {
			printManifest(c.App.Writer, m)
		}
		return err
	}

	printManifest(c.App.Writer, m)
	if m.Partial() {
		fmt.Fprintf(errw, "%d of %d pages were skipped, see failed_pages\n", m.PagesTotal-m.PointsStored, m.PagesTotal)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	topK, err := a.Retrieval.ResolveTopK(c.Int("top-k"))
	if err != nil {
		return err
	}
	results, err := a.Retrieval.Retrieve(c.Context, c.String("collection"), c.String("query"), topK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(c.App.Writer, "no matches")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tINDEX\tSOURCE\tPAGE\tTEXT")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%.4f\t%d\t%s\t%d\t%s\n",
			i+1, r.Score, r.Payload.Index, r.Payload.SourceName, r.Payload.PageNumber, snippet(r))
	}
	return tw.Flush()
}

func collectionsCommand(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Collections.List(c.Context)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(c.App.Writer, "no collections")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tDOCUMENTS\tPAGES\tPOINTS\tUPDATED")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			m.Name, m.Status, m.NumberOfDocuments, m.PagesTotal, m.PointsStored, m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func statusCommand(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	name := c.String("collection")
	st, err := a.Collections.Get(c.Context, name)
	if err != nil {
		return err
	}
	printManifest(c.App.Writer, st.Manifest)
	fmt.Fprintf(c.App.Writer, "points:      %d\n", st.Points)

	if st.Status != dommanifest.StatusDone {
		return nil
	}
	rec, err := a.Collections.Reconcile(c.Context, name)
	if err != nil {
		return err
	}
	if !rec.Consistent() {
		fmt.Fprintf(c.App.Writer, "warning:     %d dataset pages but %d stored points\n", rec.Pages, rec.Points)
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	name := c.String("collection")
	if err := a.Collections.Delete(c.Context, name); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", name)
	return nil
}

func printManifest(w io.Writer, m dommanifest.Manifest) {
	fmt.Fprintf(w, "name:        %s\n", m.Name)
	fmt.Fprintf(w, "status:      %s\n", m.Status)
	fmt.Fprintf(w, "run_id:      %s\n", m.RunID)
	fmt.Fprintf(w, "documents:   %s\n", strings.Join(m.Files, ", "))
	fmt.Fprintf(w, "pages:       %d\n", m.PagesTotal)
	fmt.Fprintf(w, "stored:      %d\n", m.PointsStored)
	if len(m.FailedPages) > 0 {
		fmt.Fprintf(w, "failed:      %v\n", m.FailedPages)
	}
	if m.Error != "" {
		fmt.Fprintf(w, "error:       %s\n", m.Error)
	}
}

const snippetLen = 60

// snippet is the first characters of the page text on one line, or "-" when the page is missing.
func snippet(r result.Result) string {
	if !r.Hydrated() {
		return "-"
	}
	text := []rune(strings.Join(strings.Fields(r.Page.Text), " "))
	if len(text) > snippetLen {
		return string(text[:snippetLen]) + "..."
	}
	return string(text)
}
