package metadata

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"

	ilerrors "ilpatch/internal/errors"
)

const definitionAddress string = "https://api.nuget.org/v3/index.json"

// ReferencePack is the NuGet package holding the reference assemblies of
// the .NET runtime.
const ReferencePack string = "microsoft.netcore.app.ref"

// Downloader fetches reference assembly packs from a NuGet feed.
type Downloader struct {
	Client *http.Client
	// Index is the address of the feed's service index.
	Index string
}

// NewDownloader returns a downloader for nuget.org.
func NewDownloader() *Downloader {
	return &Downloader{Client: http.DefaultClient, Index: definitionAddress}
}

// PackInfo describes a downloaded pack.
type PackInfo struct {
	Version   string
	Framework string
	Files     []string
}

// DownloadReferencePack downloads the latest stable version of package and
// extracts the assemblies of its newest ref/<framework>/ folder into dir.
func (d *Downloader) DownloadReferencePack(ctx context.Context, packageName, dir string) (PackInfo, error) {
	packageName = strings.ToLower(packageName)
	baseAddress, err := d.getBaseAddress(ctx)
	if err != nil {
		return PackInfo{}, err
	}
	versionsResponse, err := d.queryGet(ctx, fmt.Sprintf("%s%s/index.json", baseAddress, packageName))
	if err != nil {
		return PackInfo{}, err
	}
	versions, err := parse[map[string][]string](versionsResponse)
	if err != nil {
		return PackInfo{}, fmt.Errorf("parsing versions of %s: %w", packageName, err)
	}
	latest, err := latestVersion(versions["versions"])
	if err != nil {
		return PackInfo{}, fmt.Errorf("%s: %w", packageName, err)
	}

	nugetBytes, err := d.queryGet(ctx, fmt.Sprintf("%s%s/%s/%s.%s.nupkg", baseAddress, packageName, latest, packageName, latest))
	if err != nil {
		return PackInfo{}, err
	}
	info, err := extractReferences(nugetBytes, dir)
	if err != nil {
		return PackInfo{}, err
	}
	info.Version = latest
	return info, nil
}

// latestVersion returns the highest stable version, or the highest
// prerelease when no stable version exists.
func latestVersion(versionStrings []string) (string, error) {
	orderedVersions := make([]*version.Version, 0, len(versionStrings))
	for _, versionString := range versionStrings {
		v, err := version.NewVersion(versionString)
		if err != nil {
			return "", fmt.Errorf("error parsing version: %s", versionString)
		}
		orderedVersions = append(orderedVersions, v)
	}
	if len(orderedVersions) == 0 {
		return "", ilerrors.WrapNotFound("package versions")
	}

	sort.Sort(version.Collection(orderedVersions))
	for i := len(orderedVersions) - 1; i >= 0; i-- {
		if orderedVersions[i].Prerelease() == "" {
			return orderedVersions[i].Original(), nil
		}
	}
	return orderedVersions[len(orderedVersions)-1].Original(), nil
}

func extractReferences(nugetBytes []byte, dir string) (PackInfo, error) {
	bytesReader := bytes.NewReader(nugetBytes)
	nuget, err := zip.NewReader(bytesReader, int64(bytesReader.Len()))
	if err != nil {
		return PackInfo{}, fmt.Errorf("opening package: %w", err)
	}

	byFramework := make(map[string][]*zip.File)
	for _, file := range nuget.File {
		parts := strings.Split(file.Name, "/")
		if len(parts) == 3 && parts[0] == "ref" && strings.EqualFold(path.Ext(parts[2]), ".dll") {
			byFramework[parts[1]] = append(byFramework[parts[1]], file)
		}
	}
	framework := newestFramework(byFramework)
	if framework == "" {
		return PackInfo{}, ilerrors.WrapNotFound("reference assemblies in package")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PackInfo{}, ilerrors.WrapIO(err)
	}
	info := PackInfo{Framework: framework}
	for _, file := range byFramework[framework] {
		target := filepath.Join(dir, path.Base(file.Name))
		if err := extractFile(file, target); err != nil {
			return PackInfo{}, err
		}
		info.Files = append(info.Files, target)
	}
	return info, nil
}

func extractFile(file *zip.File, target string) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer reader.Close()
	assemblyBytes, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file.Name, err)
	}
	if err := os.WriteFile(target, assemblyBytes, 0o644); err != nil {
		return ilerrors.WrapIO(err)
	}
	return nil
}

// newestFramework picks the highest target framework folder, e.g. net9.0
// over net8.0.
func newestFramework(byFramework map[string][]*zip.File) string {
	var newest string
	var newestVersion *version.Version
	for framework := range byFramework {
		v, err := version.NewVersion(strings.TrimPrefix(framework, "net"))
		switch {
		case err != nil:
			if newestVersion == nil && framework > newest {
				newest = framework
			}
		case newestVersion == nil || v.GreaterThan(newestVersion):
			newest, newestVersion = framework, v
		}
	}
	return newest
}

func (d *Downloader) getBaseAddress(ctx context.Context) (string, error) {
	response, err := d.queryGet(ctx, d.Index)
	if err != nil {
		return "", err
	}
	index, err := parse[nugetIndex](response)
	if err != nil {
		return "", fmt.Errorf("parsing service index: %w", err)
	}

	for _, resource := range index.Resources {
		if strings.Contains(resource.Type, "PackageBaseAddress") {
			return resource.Id, nil
		}
	}

	return "", ilerrors.WrapNotFound("package base address in service index")
}

func parse[T interface{}](source []byte) (T, error) {
	var parsedBody T
	err := json.Unmarshal(source, &parsedBody)
	return parsedBody, err
}

func (d *Downloader) queryGet(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	response, err := d.Client.Do(request)
	if err != nil {
		return nil, ilerrors.WrapIO(err)
	}

	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, ilerrors.WrapIO(fmt.Errorf("GET %s: %s", url, response.Status))
	}

	return io.ReadAll(response.Body)
}

type nugetIndex struct {
	Resources []nugetResource `json:"resources"`
}

type nugetResource struct {
	Id   string `json:"@id"`
	Type string `json:"@type"`
}
