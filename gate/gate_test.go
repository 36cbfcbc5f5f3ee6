package gate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/liondadev/fileserve/store"
	"github.com/liondadev/fileserve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	files     map[int64]*types.File
	downloads []types.Download
	appendErr error
}

func newMemStore(files ...*types.File) *memStore {
	m := &memStore{files: make(map[int64]*types.File)}
	for _, f := range files {
		m.files[f.Id] = f
	}

	return m
}

func (m *memStore) FileById(_ context.Context, id int64) (*types.File, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return f, nil
}

func (m *memStore) FileBySlug(_ context.Context, slug string) (*types.File, error) {
	for _, f := range m.files {
		if f.Slug == slug {
			return f, nil
		}
	}

	return nil, store.ErrNotFound
}

func (m *memStore) AppendDownload(_ context.Context, d *types.Download) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	d.Id = int64(len(m.downloads) + 1)
	m.downloads = append(m.downloads, *d)

	return nil
}

var t0 = time.Unix(1700000000, 250_000_000)

// tokenFrom extracts the token segment of a redemption path.
func tokenFrom(t *testing.T, location string) string {
	t.Helper()

	parts := strings.Split(strings.TrimPrefix(location, "/download/"), "/")
	require.Len(t, parts, 2, location)

	return parts[0]
}

func TestIssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 42, Path: "/srv/files/app.zip", Slug: "app.zip"})
	g := New(st, st, Options{Validity: 600 * time.Second})

	redirect, err := g.IssueDownload(ctx, "42", "9.9.9.9", "Mozilla/5.0", t0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSeeOther, redirect.Status)
	assert.True(t, strings.HasPrefix(redirect.Location, "/download/"))
	assert.True(t, strings.HasSuffix(redirect.Location, "/42"))

	require.Len(t, st.downloads, 1)
	d := st.downloads[0]
	assert.Equal(t, int64(42), d.FileId)
	assert.Equal(t, "9.9.9.9", d.IPAddress)
	assert.Equal(t, "Mozilla/5.0", d.UserAgent)
	assert.True(t, t0.Equal(d.DownloadedAt))

	tok := tokenFrom(t, redirect.Location)

	granted, err := g.RedeemDownload(ctx, "42", tok, "9.9.9.9", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Granted, granted.Outcome)
	require.NotNil(t, granted.File)
	assert.Equal(t, "/srv/files/app.zip", granted.File.Path)

	denied, err := g.RedeemDownload(ctx, "42", tok, "8.8.8.8", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Denied, denied.Outcome)
	assert.Nil(t, denied.File)
	assert.Equal(t, Redirect{Location: "/file/42?invalid_token=1", Status: http.StatusSeeOther}, denied.Redirect)
}

func TestRedeem_Expired(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 1, Path: "/a", Slug: "a"})
	g := New(st, st, Options{Validity: time.Minute})

	redirect, err := g.IssueDownload(ctx, "1", "1.2.3.4", "curl/8", t0)
	require.NoError(t, err)
	tok := tokenFrom(t, redirect.Location)

	r, err := g.RedeemDownload(ctx, "1", tok, "1.2.3.4", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Granted, r.Outcome)

	r, err = g.RedeemDownload(ctx, "1", tok, "1.2.3.4", t0.Add(time.Minute+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, Denied, r.Outcome)
}

func TestRedeem_TokenForOtherFile(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 1, Path: "/a", Slug: "a"}, &types.File{Id: 2, Path: "/b", Slug: "b"})
	g := New(st, st, Options{})

	redirect, err := g.IssueDownload(ctx, "1", "1.2.3.4", "curl/8", t0)
	require.NoError(t, err)

	r, err := g.RedeemDownload(ctx, "2", tokenFrom(t, redirect.Location), "1.2.3.4", t0)
	require.NoError(t, err)
	assert.Equal(t, Denied, r.Outcome)
	assert.Equal(t, "/file/2?invalid_token=1", r.Redirect.Location)
}

func TestIssue_IgnoredAgent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 7, Path: "/a", Slug: "a"})
	g := New(st, st, Options{IgnoredUserAgents: []string{"bot", "crawler"}})

	redirect, err := g.IssueDownload(ctx, "7", "10.0.0.1", "Mozilla/5.0 crawler-test", t0)
	require.NoError(t, err)
	assert.Empty(t, st.downloads)

	r, err := g.RedeemDownload(ctx, "7", tokenFrom(t, redirect.Location), "10.0.0.1", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Granted, r.Outcome)
}

func TestIssue_NotFound(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 42, Path: "/a", Slug: "a"})
	g := New(st, st, Options{})

	for _, id := range []string{"99999", "", "abc", "-1", "+42", "4 2"} {
		t.Run(id, func(t *testing.T) {
			redirect, err := g.IssueDownload(ctx, id, "1.1.1.1", "curl/8", t0)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Equal(t, Redirect{}, redirect)

			_, err = g.RedeemDownload(ctx, id, "dG9rZW4", "1.1.1.1", t0)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}

	assert.Empty(t, st.downloads)
}

func TestIssue_RecordFailure(t *testing.T) {
	st := newMemStore(&types.File{Id: 42, Path: "/a", Slug: "a"})
	st.appendErr = errors.New("disk full")
	g := New(st, st, Options{})

	_, err := g.IssueDownload(context.Background(), "42", "1.1.1.1", "curl/8", t0)
	assert.ErrorIs(t, err, st.appendErr)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSlugLookup(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(&types.File{Id: 3, Path: "/srv/report.pdf", Slug: "report.pdf"})
	g := New(st, st, Options{Lookup: LookupBySlug})

	redirect, err := g.IssueDownload(ctx, "report.pdf", "1.1.1.1", "curl/8", t0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(redirect.Location, "/report.pdf"))
	require.Len(t, st.downloads, 1)
	assert.Equal(t, int64(3), st.downloads[0].FileId)

	r, err := g.RedeemDownload(ctx, "report.pdf", tokenFrom(t, redirect.Location), "1.1.1.1", t0)
	require.NoError(t, err)
	assert.Equal(t, Granted, r.Outcome)

	_, err = g.IssueDownload(ctx, "3", "1.1.1.1", "curl/8", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShouldCount(t *testing.T) {
	tests := []struct {
		name    string
		agent   string
		ignored []string
		want    bool
	}{
		{name: "no list", agent: "Googlebot/2.1", ignored: nil, want: true},
		{name: "browser", agent: "Mozilla/5.0", ignored: []string{"bot", "crawler"}, want: true},
		{name: "crawler", agent: "Mozilla/5.0 crawler-test", ignored: []string{"bot", "crawler"}, want: false},
		{name: "bot suffix", agent: "Googlebot/2.1", ignored: []string{"bot"}, want: false},
		{name: "case sensitive", agent: "MyBOT/1.0", ignored: []string{"bot"}, want: true},
		{name: "default agent", agent: "Unknown-User-Agent/0.0", ignored: []string{"Unknown-User-Agent"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCount(tt.agent, tt.ignored))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	g := New(nil, nil, Options{})

	assert.Equal(t, LookupById, g.opts.Lookup)
	assert.Equal(t, 600*time.Second, g.opts.Validity)
}
