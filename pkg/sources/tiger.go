package sources

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// TigerFile is one TIGER/Line product: its directory in the download tree,
// its layer name and the extent of each archive.
type TigerFile struct {
	Dir   string
	Layer string
	Scale codebook.Scale
}

// DefaultTigerFiles are the products fetched for a state and county.
var DefaultTigerFiles = []TigerFile{
	{"STATE", "state", codebook.National},
	{"COUNTY", "county", codebook.National},
	{"COUSUB", "cousub", codebook.State},
	{"TRACT", "tract", codebook.State},
	{"BG", "bg", codebook.State},
	{"PLACE", "place", codebook.State},
	{"PRIMARYROADS", "primaryroads", codebook.National},
	{"PRISECROADS", "prisecroads", codebook.State},
	{"ROADS", "roads", codebook.County},
	{"AREAWATER", "areawater", codebook.County},
	{"LINEARWATER", "linearwater", codebook.County},
	{"EDGES", "edges", codebook.County},
	{"FEATNAMES", "featnames", codebook.County},
	{"ADDR", "addr", codebook.County},
}

// Name is the archive name of f for the context year and area.
func (f TigerFile) Name(pc project.Context) string {
	fips := "us"
	switch f.Scale {
	case codebook.State:
		fips = pc.State
	case codebook.County:
		fips = pc.CountyFIPS()
	}
	return fmt.Sprintf("tl_%d_%s_%s.zip", pc.Year, fips, f.Layer)
}

// URL is the download URL of f under base (the TIGER root).
func (f TigerFile) URL(base string, pc project.Context) string {
	return fmt.Sprintf("%s/TIGER%d/%s/%s", strings.TrimRight(base, "/"), pc.Year, f.Dir, f.Name(pc))
}

// FetchTIGER downloads the archive at u and unpacks it into destDir,
// returning the extracted paths. The archive is removed afterwards.
func FetchTIGER(ctx context.Context, client *fetch.Client, u, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(destDir, ".download-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := client.Download(ctx, u, tmp.Name()); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	files, err := unzipFile(tmp.Name(), destDir)
	if err != nil {
		return nil, fmt.Errorf("unzip %s: %w", u, err)
	}
	return files, nil
}

// unzipFile extracts a ZIP archive flat into destDir.
func unzipFile(src, destDir string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var paths []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))
		if err := extract(f, destPath); err != nil {
			return nil, err
		}
		paths = append(paths, destPath)
	}
	return paths, nil
}

func extract(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// fetchTigerFiles downloads every product into the TIGER source folder of the
// context year. A failing product is logged and skipped; the error lists
// every failure.
func fetchTigerFiles(ctx context.Context, env Env, base string, files []TigerFile) error {
	dest := env.Project.SourceDir(project.TIGER)
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		u := f.URL(base, env.Project)
		got, err := FetchTIGER(ctx, env.client(), u, dest)
		if err != nil {
			env.log().Warn("tiger product skipped", "layer", f.Layer, "url", u, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", f.Layer, err))
			continue
		}
		env.log().Debug("tiger product fetched", "layer", f.Layer, "files", len(got))
	}
	return errors.Join(errs...)
}
