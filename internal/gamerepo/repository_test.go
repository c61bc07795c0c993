package gamerepo

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"

	"github.com/Tener/ggp-aps/internal/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFragment = "var boardInterface = { draw: function() {} };\n"

// newTestRepo builds a repository over an in-memory store. Names ending in
// "/" create empty directories.
func newTestRepo(t *testing.T, files map[string]string) *Repository {
	t.Helper()
	return newTestRepoWithLogger(t, log.Nop(), files)
}

func newTestRepoWithLogger(t *testing.T, l log.Logger, files map[string]string) *Repository {
	t.Helper()

	store := afero.NewMemMapFs()
	for name, body := range files {
		if strings.HasSuffix(name, "/") {
			require.NoError(t, store.MkdirAll(name, 0o755))
			continue
		}
		require.NoError(t, store.MkdirAll(path.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(store, name, []byte(body), 0o644))
	}

	frag := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(frag, "games/resources/scripts/BoardInterface.js", []byte(testFragment), 0o644))

	repo, err := New(Options{
		Logger:     l,
		Store:      store,
		FragmentFS: frag,
		BaseURL:    "http://127.0.0.1:9140",
	})
	require.NoError(t, err)
	return repo
}

func resolve(t *testing.T, repo *Repository, p string) *Response {
	t.Helper()
	res, err := repo.Resolve(context.Background(), p)
	require.NoError(t, err, "Resolve(%q)", p)
	return res
}

// ---- options

func TestNew_Validation(t *testing.T) {
	store := afero.NewMemMapFs()

	_, err := New(Options{BaseURL: "http://x"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Store: store})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Store: store, BaseURL: "http://x", Namespace: "games"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	repo, err := New(Options{Store: store, BaseURL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "/games/", repo.Namespace())
}

// ---- scenarios

func TestResolve_TrailingSlashServesMetadataAtMaxVersion(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA": `{"gameName":"R","version":7}`,
	})

	res := resolve(t, repo, "/games/R/")
	assert.JSONEq(t, `{"gameName":"R","version":0}`, string(res.Body))
	assert.Equal(t, KindMetadata, res.Kind)
	assert.True(t, res.Versioned)
	assert.Equal(t, 0, res.Version)
}

func TestResolve_MetadataFallsBackAndTakesExplicitVersion(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA":    `{"gameName":"R"}`,
		"/games/R/v1/board.js": "var x = 1;\n",
	})

	res := resolve(t, repo, "/games/R/v1/METADATA")
	assert.JSONEq(t, `{"gameName":"R","version":1}`, string(res.Body))
	assert.Equal(t, 0, res.Version, "body comes from version 0")
}

func TestResolve_VersionAboveMaxIsNotFound(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA":    `{}`,
		"/games/R/v1/METADATA": `{}`,
		"/games/R/v2/METADATA": `{}`,
	})

	_, err := repo.Resolve(context.Background(), "/games/R/v5/METADATA")
	assert.ErrorIs(t, err, ErrNotFound)

	res := resolve(t, repo, "/games/R/v2/METADATA")
	assert.JSONEq(t, `{"version":2}`, string(res.Body))
}

func TestResolve_ScriptSubstitutesBoardInterfaceOnce(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/board.js": "// [BOARD_INTERFACE_JS]\r\nfoo();\r\n// [BOARD_INTERFACE_JS]",
	})

	res := resolve(t, repo, "/games/R/board.js")
	want := "// " + testFragment + "\nfoo();\n// [BOARD_INTERFACE_JS]\n"
	assert.Equal(t, want, string(res.Body))
	assert.Equal(t, KindScript, res.Kind)
}

func TestResolve_AggregateMetadata(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/A/METADATA":    `{"name":"a"}`,
		"/games/B/METADATA":    `{"name":"b"}`,
		"/games/B/v3/METADATA": `{"name":"b3"}`,
	})

	res := resolve(t, repo, "/games/metadata")
	assert.Equal(t, KindAggregate, res.Kind)
	assert.JSONEq(t, `{"A":{"name":"a","version":0},"B":{"name":"b3","version":3}}`, string(res.Body))
	assert.False(t, res.Versioned)
}

// ---- fallback

func TestResolve_FallbackPicksHighestPresentVersion(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/rules.kif":    "(role v0)\n",
		"/games/R/v2/rules.kif": "(role v2)\n",
		"/games/R/v4/":          "",
	})

	tests := []struct {
		req         string
		wantBody    string
		wantVersion int
	}{
		{"/games/R/rules.kif", "(role v2)\n", 2},
		{"/games/R/v4/rules.kif", "(role v2)\n", 2},
		{"/games/R/v3/rules.kif", "(role v2)\n", 2},
		{"/games/R/v2/rules.kif", "(role v2)\n", 2},
		{"/games/R/v1/rules.kif", "(role v0)\n", 0},
		{"/games/R/v0/rules.kif", "(role v0)\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			res := resolve(t, repo, tt.req)
			assert.Equal(t, tt.wantBody, string(res.Body))
			assert.Equal(t, tt.wantVersion, res.Version)
		})
	}
}

func TestResolve_FallbackNeverReadsAboveTarget(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/v1/":         "",
		"/games/R/v2/only.txt": "two\n",
	})

	_, err := repo.Resolve(context.Background(), "/games/R/v1/only.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_AbsentAtEveryVersionIsNotFound(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA": `{}`,
	})

	_, err := repo.Resolve(context.Background(), "/games/R/missing.xsl")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Resolve(context.Background(), "/games/Nope/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_HousekeepingIsNotAVersion(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA":      `{}`,
		"/games/R/.svn/entries":  "x",
		"/games/R/v1/METADATA":   `{"v":1}`,
		"/games/R/vfoo/METADATA": `{"v":"foo"}`,
		"/games/R/v2.bak/":       "",
	})

	assert.Equal(t, 1, repo.MaxVersion("/games/R"))
	assert.Equal(t, 0, repo.MaxVersion("/games/Nope"))
	assert.Equal(t, 0, repo.MaxVersion("/games/R/METADATA"))

	res := resolve(t, repo, "/games/R/")
	assert.JSONEq(t, `{"v":1,"version":1}`, string(res.Body))
}

func TestMaxVersion_IgnoresPlainFilesNamedLikeVersions(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/v9":  "not a directory",
		"/games/R/v3/": "",
	})
	assert.Equal(t, 3, repo.MaxVersion("/games/R"))
}

// ---- errors

func TestResolve_MalformedPath(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA": `{}`,
	})

	_, err := repo.Resolve(context.Background(), "/games/R/v01/METADATA")
	assert.ErrorIs(t, err, ErrMalformedPath)
}

func TestResolve_BadMetadata(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/Arr/METADATA":  `[1, 2, 3]`,
		"/games/Junk/METADATA": `not json`,
	})

	_, err := repo.Resolve(context.Background(), "/games/Arr/")
	assert.ErrorIs(t, err, ErrBadMetadata)

	_, err = repo.Resolve(context.Background(), "/games/Junk/METADATA")
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestResolve_UnsafePathsAreNotFound(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA": `{}`,
	})

	for _, p := range []string{"/games/../games/R/", "/games/R/./METADATA", "games/R/", "/games/R\\METADATA"} {
		_, err := repo.Resolve(context.Background(), p)
		assert.ErrorIs(t, err, ErrNotFound, p)
	}
}

// ---- direct paths

func TestResolve_OutsideNamespaceIsUnversioned(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/resources/style.css": "a{}\r\nb{}",
		"/resources/v1/x.txt":  "versioned dirs mean nothing here\n",
	})

	res := resolve(t, repo, "/resources/style.css")
	assert.Equal(t, "a{}\nb{}\n", string(res.Body))
	assert.False(t, res.Versioned)

	res = resolve(t, repo, "/resources/missing.css")
	assert.Equal(t, "{}", string(res.Body))
	assert.Equal(t, KindAbsent, res.Kind)

	res = resolve(t, repo, "/resources/")
	assert.JSONEq(t, `["style.css","v1"]`, string(res.Body))
}

func TestResolve_NamespaceRootListsGames(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/B/METADATA":   `{}`,
		"/games/A/METADATA":   `{}`,
		"/games/.svn/entries": "x",
	})

	res := resolve(t, repo, "/games/")
	assert.Equal(t, KindDirectory, res.Kind)
	assert.Equal(t, `["A","B"]`, string(res.Body))
}

// ---- properties

func TestResolve_Idempotent(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA":    `{"b":1,"a":2}`,
		"/games/R/v1/board.js": "[BOARD_INTERFACE_JS]",
		"/games/R/style.xsl":   "<xsl/>",
	})

	for _, p := range []string{"/games/R/", "/games/R/v1/board.js", "/games/R/style.xsl", "/games/metadata"} {
		first := resolve(t, repo, p)
		second := resolve(t, repo, p)
		assert.Equal(t, first.Body, second.Body, p)
	}
}

func TestResolve_BoardInterfaceReadEveryTime(t *testing.T) {
	frag := afero.NewMemMapFs()
	store := afero.NewMemMapFs()
	require.NoError(t, store.MkdirAll("/games/R", 0o755))
	require.NoError(t, afero.WriteFile(store, "/games/R/board.js", []byte("[BOARD_INTERFACE_JS]\n"), 0o644))

	repo, err := New(Options{
		Store:              store,
		FragmentFS:         frag,
		BoardInterfacePath: "bi.js",
		BaseURL:            "http://x",
	})
	require.NoError(t, err)

	res := resolve(t, repo, "/games/R/board.js")
	assert.Equal(t, "{}", string(res.Body), "missing fragment")
	assert.Equal(t, KindUnreadable, res.Kind)

	require.NoError(t, afero.WriteFile(frag, "bi.js", []byte("one"), 0o644))
	assert.Equal(t, "one\n", string(resolve(t, repo, "/games/R/board.js").Body))

	require.NoError(t, afero.WriteFile(frag, "bi.js", []byte("two"), 0o644))
	assert.Equal(t, "two\n", string(resolve(t, repo, "/games/R/board.js").Body))
}

func TestResolve_ErrorsAreDistinct(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"/games/R/METADATA": `"string"`,
	})

	_, err := repo.Resolve(context.Background(), "/games/R/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadMetadata))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrMalformedPath))
}
