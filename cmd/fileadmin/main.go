// Command fileadmin manages the files served by fileserve and shows their
// download statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/liondadev/fileserve/config"
	"github.com/liondadev/fileserve/store"
	"github.com/liondadev/fileserve/types"

	_ "github.com/glebarez/go-sqlite"
)

const usage = `usage: fileadmin [-config file] <command> [flags]

commands:
  migrate                 create the database schema
  add -path P [-slug S]   register a file and print its download link
  remove -id N            remove a file and its download history
  list                    list registered files
  stats -id N             show download statistics of a file
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fileadmin:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fileadmin", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	configPath := fs.String("config", os.Getenv("FILESERVE_CONFIG_FILE"), "path to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	cfg := config.New()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	if err := st.ApplyMigrations(ctx); err != nil {
		return err
	}

	a := &admin{cfg: cfg, store: st, out: out}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "migrate":
		fmt.Fprintln(out, "schema is up to date")
		return nil
	case "add":
		return a.add(ctx, cmdArgs)
	case "remove":
		return a.remove(ctx, cmdArgs)
	case "list":
		return a.list(ctx)
	case "stats":
		return a.stats(ctx, cmdArgs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type admin struct {
	cfg   *config.Config
	store *store.Store
	out   io.Writer
}

// link is the absolute issuance URL of f, for sharing.
func (a *admin) link(f *types.File) (string, error) {
	identifier := strconv.FormatInt(f.Id, 10)
	if a.cfg.Lookup == "slug" {
		identifier = f.Slug
	}

	return url.JoinPath(a.cfg.BaseURL, "file", identifier)
}

func (a *admin) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	path := fs.String("path", "", "path of the file to serve")
	slug := fs.String("slug", "", "slug for the file, derived from the file name when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *path == "" {
		return errors.New("add: -path is required")
	}

	abs, err := filepath.Abs(*path)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		// files may be mounted later, so this is only a warning
		fmt.Fprintf(a.out, "warning: %s\n", err)
	}

	f, err := a.store.AddFile(ctx, abs, *slug)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	link, err := a.link(f)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	fmt.Fprintf(a.out, "added file %d (%s)\n%s\n", f.Id, f.Slug, link)
	return nil
}

func (a *admin) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	fs.SetOutput(a.out)
	id := fs.Int64("id", 0, "id of the file to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.store.RemoveFile(ctx, *id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("remove: no file with id %d", *id)
		}

		return fmt.Errorf("remove: %w", err)
	}

	fmt.Fprintf(a.out, "removed file %d\n", *id)
	return nil
}

func (a *admin) list(ctx context.Context) error {
	files, err := a.store.ListFiles(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tPATH")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.Id, f.Slug, f.Path)
	}

	return tw.Flush()
}

func (a *admin) stats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(a.out)
	id := fs.Int64("id", 0, "id of the file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := a.store.FileById(ctx, *id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("stats: no file with id %d", *id)
		}

		return fmt.Errorf("stats: %w", err)
	}

	stats, err := a.store.DownloadStats(ctx, f.Id)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	fmt.Fprintf(a.out, "file:      %d (%s)\n", f.Id, f.Path)
	fmt.Fprintf(a.out, "downloads: %d\n", stats.Total)
	if stats.Last != nil {
		fmt.Fprintf(a.out, "last:      %s from %s (%s)\n", stats.Last.DownloadedAt.UTC().Format(time.RFC1123), stats.Last.IPAddress, stats.Last.UserAgent)
	}

	return nil
}
