// Package gate implements the two step download flow: issuing a token for a
// file and redeeming it for the file itself.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liondadev/fileserve/store"
	"github.com/liondadev/fileserve/token"
	"github.com/liondadev/fileserve/types"
)

// ErrNotFound is returned when an identifier does not resolve to a file.
var ErrNotFound = errors.New("file not found")

// LookupMode selects how request identifiers are resolved to files.
type LookupMode string

const (
	LookupById   LookupMode = "id"
	LookupBySlug LookupMode = "slug"
)

// FileFinder resolves files. Implementations return store.ErrNotFound for
// unknown files.
type FileFinder interface {
	FileById(ctx context.Context, id int64) (*types.File, error)
	FileBySlug(ctx context.Context, slug string) (*types.File, error)
}

// DownloadRecorder persists counted downloads.
type DownloadRecorder interface {
	AppendDownload(ctx context.Context, d *types.Download) error
}

// Options configures a Gate.
type Options struct {
	Lookup            LookupMode
	IgnoredUserAgents []string
	Validity          time.Duration
}

// Gate issues and redeems download tokens. It keeps no per-request state.
type Gate struct {
	files     FileFinder
	downloads DownloadRecorder
	opts      Options
}

// New creates a gate. A zero validity falls back to token.DefaultValidity.
func New(files FileFinder, downloads DownloadRecorder, opts Options) *Gate {
	if opts.Lookup == "" {
		opts.Lookup = LookupById
	}
	if opts.Validity <= 0 {
		opts.Validity = token.DefaultValidity
	}

	return &Gate{files: files, downloads: downloads, opts: opts}
}

// Redirect describes where the client should be sent next.
type Redirect struct {
	Location string
	Status   int
}

// Outcome is the result of a redemption attempt.
type Outcome int

const (
	Denied Outcome = iota
	Granted
)

func (o Outcome) String() string {
	if o == Granted {
		return "granted"
	}

	return "denied"
}

// Redemption carries the file on Granted, and the way back to issuance on Denied.
type Redemption struct {
	Outcome  Outcome
	File     *types.File
	Redirect Redirect
}

// IssueDownload resolves identifier, records the download unless the agent is
// ignored, and returns a redirect to the redemption URL carrying a fresh token.
func (g *Gate) IssueDownload(ctx context.Context, identifier, identity, agent string, now time.Time) (Redirect, error) {
	file, err := g.resolve(ctx, identifier)
	if err != nil {
		return Redirect{}, err
	}

	download := &types.Download{
		FileId:       file.Id,
		DownloadedAt: now,
		IPAddress:    identity,
		UserAgent:    agent,
	}

	if ShouldCount(agent, g.opts.IgnoredUserAgents) {
		if err := g.downloads.AppendDownload(ctx, download); err != nil {
			return Redirect{}, fmt.Errorf("record download: %w", err)
		}
	}

	tok := token.Encode(download.FileId, download.DownloadedAt, download.IPAddress)

	return Redirect{Location: RedeemPath(tok, identifier), Status: http.StatusSeeOther}, nil
}

// RedeemDownload checks tok against the resolved file, the requester identity and now.
func (g *Gate) RedeemDownload(ctx context.Context, identifier, tok, identity string, now time.Time) (Redemption, error) {
	file, err := g.resolve(ctx, identifier)
	if err != nil {
		return Redemption{}, err
	}

	if !token.Verify(tok, file.Id, identity, now, g.opts.Validity) {
		return Redemption{
			Outcome:  Denied,
			Redirect: Redirect{Location: IssuePath(identifier) + "?invalid_token=1", Status: http.StatusSeeOther},
		}, nil
	}

	return Redemption{Outcome: Granted, File: file}, nil
}

// ShouldCount reports whether a download by agent belongs in the statistics,
// that is whether agent contains none of the ignored substrings.
func ShouldCount(agent string, ignored []string) bool {
	for _, sub := range ignored {
		if strings.Contains(agent, sub) {
			return false
		}
	}

	return true
}

// IssuePath is the path of the issuance endpoint for identifier.
func IssuePath(identifier string) string {
	return "/file/" + url.PathEscape(identifier)
}

// RedeemPath is the path of the redemption endpoint for tok and identifier.
func RedeemPath(tok, identifier string) string {
	return "/download/" + url.PathEscape(tok) + "/" + url.PathEscape(identifier)
}

func (g *Gate) resolve(ctx context.Context, identifier string) (*types.File, error) {
	var (
		file *types.File
		err  error
	)

	switch g.opts.Lookup {
	case LookupBySlug:
		file, err = g.files.FileBySlug(ctx, identifier)
	default:
		// digits only, like the path converters of most routers
		if strings.TrimLeft(identifier, "0123456789") != "" {
			return nil, ErrNotFound
		}
		id, perr := strconv.ParseInt(identifier, 10, 64)
		if perr != nil {
			return nil, ErrNotFound
		}
		file, err = g.files.FileById(ctx, id)
	}

	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}
