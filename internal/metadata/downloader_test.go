package metadata

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilerrors "ilpatch/internal/errors"
)

func buildPackage(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newFeed(t *testing.T, versions string, pkg []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":[{"@id":"%s/search","@type":"SearchQueryService"},{"@id":"%s/flat/","@type":"PackageBaseAddress/3.0.0"}]}`, server.URL, server.URL)
	})
	mux.HandleFunc("/flat/microsoft.netcore.app.ref/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, versions)
	})
	mux.HandleFunc("/flat/microsoft.netcore.app.ref/8.0.10/microsoft.netcore.app.ref.8.0.10.nupkg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pkg)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDownloadReferencePack(t *testing.T) {
	pkg := buildPackage(t, map[string]string{
		"ref/net7.0/System.Runtime.dll": "old",
		"ref/net8.0/System.Runtime.dll": "runtime",
		"ref/net8.0/System.Console.dll": "console",
		"ref/net8.0/System.Runtime.xml": "docs",
		"lib/net8.0/Other.dll":          "other",
	})
	server := newFeed(t, `{"versions":["7.0.5","8.0.10","9.0.0-preview.1"]}`, pkg)
	d := &Downloader{Client: server.Client(), Index: server.URL + "/index.json"}
	dir := filepath.Join(t.TempDir(), "refs")

	info, err := d.DownloadReferencePack(context.Background(), "Microsoft.NETCore.App.Ref", dir)
	require.NoError(t, err)

	assert.Equal(t, "8.0.10", info.Version)
	assert.Equal(t, "net8.0", info.Framework)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "System.Runtime.dll"),
		filepath.Join(dir, "System.Console.dll"),
	}, info.Files)

	content, err := os.ReadFile(filepath.Join(dir, "System.Runtime.dll"))
	require.NoError(t, err)
	assert.Equal(t, "runtime", string(content))
}

func TestDownloadReferencePackMissingVersion(t *testing.T) {
	server := newFeed(t, `{"versions":["8.0.11"]}`, nil)
	d := &Downloader{Client: server.Client(), Index: server.URL + "/index.json"}

	_, err := d.DownloadReferencePack(context.Background(), ReferencePack, t.TempDir())
	assert.ErrorIs(t, err, ilerrors.ErrIO)
}

func TestDownloadReferencePackWithoutReferences(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"lib/net8.0/Other.dll": "other"})
	server := newFeed(t, `{"versions":["8.0.10"]}`, pkg)
	d := &Downloader{Client: server.Client(), Index: server.URL + "/index.json"}

	_, err := d.DownloadReferencePack(context.Background(), ReferencePack, t.TempDir())
	assert.ErrorIs(t, err, ilerrors.ErrNotFound)
}

func TestLatestVersion(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
	}{
		{"stable wins over prerelease", []string{"8.0.0", "9.0.0-rc.2", "8.0.10"}, "8.0.10"},
		{"numeric ordering", []string{"8.0.9", "8.0.10", "8.0.2"}, "8.0.10"},
		{"only prereleases", []string{"9.0.0-preview.1", "9.0.0-rc.1"}, "9.0.0-rc.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := latestVersion(tt.versions)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := latestVersion(nil)
	assert.ErrorIs(t, err, ilerrors.ErrNotFound)
	_, err = latestVersion([]string{"not-a-version"})
	assert.Error(t, err)
}

func TestNewestFramework(t *testing.T) {
	byFramework := map[string][]*zip.File{"net6.0": nil, "net10.0": nil, "net8.0": nil, "netstandard2.1": nil}

	assert.Equal(t, "net10.0", newestFramework(byFramework))
	assert.Equal(t, "", newestFramework(nil))
}
