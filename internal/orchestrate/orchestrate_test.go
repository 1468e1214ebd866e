package orchestrate

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/config"
	"github.com/tsukumogami/cellar/internal/download"
	"github.com/tsukumogami/cellar/internal/log"
	"github.com/tsukumogami/cellar/internal/metadata"
	"github.com/tsukumogami/cellar/internal/platform"
	"github.com/tsukumogami/cellar/internal/resolver"
)

type tarEntry struct {
	name string
	body string
	mode int64
}

func buildBottle(t *testing.T, entries []tarEntry) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0644
		}
		hdr := &tar.Header{Name: e.name, Mode: mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	data := buf.Bytes()
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:])
}

func testSetup(t *testing.T) (*config.Config, *cellar.Cellar) {
	t.Helper()
	cfg, err := config.NewConfig(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDirectories())
	return cfg, cellar.New(cfg)
}

func TestInstall_ExtractsRelocatesLinksAndWritesReceipt(t *testing.T) {
	cfg, c := testSetup(t)

	body, sum := buildBottle(t, []tarEntry{
		{name: "jq/1.7.1/bin/jq", body: "#!/bin/sh\necho @@HOMEBREW_PREFIX@@\n", mode: 0755},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	pool := download.NewPool(cfg.DownloadCacheDir, download.WithHTTPClient(srv.Client()))
	probe := platform.Probe{Arch: "arm64", OS: "darwin", BottleTag: "arm64_sonoma", Prefix: cfg.Prefix, Cellar: cfg.Cellar}
	o := New(cfg, c, pool, probe, log.NewNoop())

	plan := []resolver.Node{
		{
			Name:             "jq",
			DesiredVersion:   "1.7.1",
			BottleTag:        "arm64_sonoma",
			DeclaredDirectly: true,
			Classification:   resolver.Fresh,
			Formula: &metadata.Formula{
				Name:     "jq",
				FullName: "jq",
				Versions: metadata.Versions{Stable: "1.7.1", Bottle: true},
				Bottle: metadata.Bottle{Stable: metadata.BottleStable{
					Files: map[string]metadata.BottleFile{
						"arm64_sonoma": {URL: srv.URL, Sha256: sum},
					},
				}},
			},
		},
	}

	require.NoError(t, o.Install(context.Background(), plan, Options{}))

	kegBin := filepath.Join(cfg.KegDir("jq", "1.7.1"), "bin", "jq")
	contents, err := os.ReadFile(kegBin)
	require.NoError(t, err)
	require.NotContains(t, string(contents), "@@HOMEBREW_PREFIX@@", "placeholder was not relocated")
	require.Contains(t, string(contents), cfg.Prefix, "relocated script does not contain prefix")

	_, err = os.Stat(filepath.Join(cfg.KegDir("jq", "1.7.1"), "INSTALL_RECEIPT.json"))
	require.NoError(t, err, "expected receipt to be written")

	optTarget, err := os.Readlink(cfg.OptLink("jq"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("..", "Cellar", "jq", "1.7.1"), optTarget)

	linkedBin := filepath.Join(cfg.BinDir, "jq")
	_, err = os.Lstat(linkedBin)
	require.NoError(t, err, "expected bin/jq to be linked")
}

func TestInstall_SkipsAlreadyInstalledNode(t *testing.T) {
	cfg, c := testSetup(t)
	pool := download.NewPool(cfg.DownloadCacheDir)
	probe := platform.Probe{Arch: "arm64", OS: "darwin", BottleTag: "arm64_sonoma"}
	o := New(cfg, c, pool, probe, log.NewNoop())

	plan := []resolver.Node{
		{Name: "jq", DesiredVersion: "1.7.1", Classification: resolver.AlreadyInstalledAtDesired},
	}

	require.NoError(t, o.Install(context.Background(), plan, Options{}), "Install with nothing to do should succeed")
}

func TestInstall_MissingBottleWithoutFallbackFails(t *testing.T) {
	cfg, c := testSetup(t)
	pool := download.NewPool(cfg.DownloadCacheDir)
	probe := platform.Probe{Arch: "arm64", OS: "darwin", BottleTag: "arm64_sonoma"}
	o := New(cfg, c, pool, probe, log.NewNoop())

	plan := []resolver.Node{
		{
			Name:           "jq",
			DesiredVersion: "1.7.1",
			Classification: resolver.Fresh,
			BottleTag:      "",
			Formula:        &metadata.Formula{Name: "jq"},
		},
	}

	err := o.Install(context.Background(), plan, Options{BrewFallback: false})
	require.Error(t, err, "expected error for missing bottle with no fallback")
}

func TestUninstall_RemovesKegAndLinks(t *testing.T) {
	cfg, c := testSetup(t)
	pool := download.NewPool(cfg.DownloadCacheDir)
	probe := platform.Probe{Arch: "arm64", OS: "darwin", BottleTag: "arm64_sonoma"}
	o := New(cfg, c, pool, probe, log.NewNoop())

	body, sum := buildBottle(t, []tarEntry{
		{name: "jq/1.7.1/bin/jq", body: "binary", mode: 0755},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()
	pool = download.NewPool(cfg.DownloadCacheDir, download.WithHTTPClient(srv.Client()))
	o = New(cfg, c, pool, probe, log.NewNoop())

	plan := []resolver.Node{
		{
			Name: "jq", DesiredVersion: "1.7.1", Classification: resolver.Fresh, BottleTag: "arm64_sonoma",
			DeclaredDirectly: true,
			Formula: &metadata.Formula{
				Name: "jq", Versions: metadata.Versions{Stable: "1.7.1", Bottle: true},
				Bottle: metadata.Bottle{Stable: metadata.BottleStable{Files: map[string]metadata.BottleFile{
					"arm64_sonoma": {URL: srv.URL, Sha256: sum},
				}}},
			},
		},
	}
	require.NoError(t, o.Install(context.Background(), plan, Options{}))

	require.NoError(t, o.Uninstall("jq", "1.7.1"))

	_, err := os.Stat(cfg.KegDir("jq", "1.7.1"))
	require.True(t, os.IsNotExist(err), "expected keg directory to be removed")

	_, err = os.Lstat(cfg.OptLink("jq"))
	require.True(t, os.IsNotExist(err), "expected opt link to be removed")
}
