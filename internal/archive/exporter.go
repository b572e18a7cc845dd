// Package archive produces a full tar snapshot of an installation's data
// directory: its auth log, database file, server TLS material, and every
// organization/user/server's certificate and configuration files. Ported
// from the original data export handler's scratch-file-then-stream
// contract — build the tarball on disk first, then hand the caller a
// file to stream and a cleanup func to remove it once done.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rat-data/ratd-core/internal/domain"
	"github.com/rat-data/ratd-core/internal/orgtree"
)

// appName is the archive filename prefix used when APP_NAME is unset.
const appName = "ratd"

// Exporter builds full data-directory archives.
type Exporter struct {
	dataRoot string
	store    orgtree.Store
}

// NewExporter returns an Exporter rooted at dataRoot, resolving the
// organization/user/server tree through store.
func NewExporter(dataRoot string, store orgtree.Store) *Exporter {
	return &Exporter{dataRoot: dataRoot, store: store}
}

// Export builds a tar archive of the full data directory into a scratch
// file under dataRoot/temp and returns it open for reading. The caller
// must call cleanup once done reading, which closes and removes the
// scratch file.
func (e *Exporter) Export(ctx context.Context) (filename string, r io.Reader, cleanup func(), err error) {
	tempDir := filepath.Join(e.dataRoot, "temp")
	emptyTempPath := filepath.Join(tempDir, "empty")
	if err := os.MkdirAll(emptyTempPath, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("archive: create temp dir: %w", err)
	}

	prefix := appName
	if v := os.Getenv("APP_NAME"); v != "" {
		prefix = v
	}
	filename = fmt.Sprintf("%s_%s.tar", prefix, time.Now().Format("2006_01_02_15_04_05"))
	archivePath := filepath.Join(tempDir, filename)

	if err := e.build(ctx, archivePath, emptyTempPath); err != nil {
		os.Remove(archivePath)
		return "", nil, nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		os.Remove(archivePath)
		return "", nil, nil, fmt.Errorf("archive: reopen %s: %w", archivePath, err)
	}

	cleanup = func() {
		f.Close()
		os.Remove(archivePath)
	}
	return filename, f, cleanup, nil
}

func (e *Exporter) build(ctx context.Context, archivePath, emptyTempPath string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("archive: create scratch file: %w", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	root := domain.DefaultDataRootPaths(e.dataRoot)
	for _, p := range []string{root.AuthLog, root.DBFile, root.ServerCert, root.ServerKey, root.VersionTag} {
		if err := addIfPresent(tw, e.dataRoot, p); err != nil {
			return err
		}
	}

	orgs, err := e.store.IterOrgs(ctx)
	if err != nil {
		return fmt.Errorf("archive: iter orgs: %w", err)
	}
	for _, org := range orgs {
		paths := org.Paths(e.dataRoot)
		if err := addIfPresent(tw, e.dataRoot, paths.Doc); err != nil {
			return err
		}
		if err := addEmptyDir(tw, e.dataRoot, emptyTempPath, paths.TempDir); err != nil {
			return err
		}

		users, err := e.store.IterUsers(ctx, org.ID.String())
		if err != nil {
			return fmt.Errorf("archive: iter users for org %s: %w", org.ID, err)
		}
		for _, user := range users {
			up := user.Paths(e.dataRoot)
			for _, p := range []string{up.Req, up.Key, up.Cert, up.Doc} {
				if err := addIfPresent(tw, e.dataRoot, p); err != nil {
					return err
				}
			}
		}

		for _, p := range []string{paths.CACertReq, paths.CACertKey, paths.CACertCert, paths.CACertDoc} {
			if err := addIfPresent(tw, e.dataRoot, p); err != nil {
				return err
			}
		}
	}

	servers, err := e.store.IterServers(ctx)
	if err != nil {
		return fmt.Errorf("archive: iter servers: %w", err)
	}
	for _, server := range servers {
		sp := server.Paths(e.dataRoot)
		for _, p := range []string{sp.DHParams, sp.IPPool, sp.Doc, sp.NodeMarker} {
			if err := addIfPresent(tw, e.dataRoot, p); err != nil {
				return err
			}
		}
		if err := addEmptyDir(tw, e.dataRoot, emptyTempPath, sp.TempDir); err != nil {
			return err
		}
	}

	return nil
}

// addIfPresent tars path under its name relative to dataRoot, doing
// nothing if path does not exist. Absence of any one file is routine,
// not an error.
func addIfPresent(tw *tar.Writer, dataRoot, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", path, err)
	}

	arcname, err := filepath.Rel(dataRoot, path)
	if err != nil {
		return fmt.Errorf("archive: relativize %s: %w", path, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("archive: header for %s: %w", path, err)
	}
	header.Name = filepath.ToSlash(arcname)

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("archive: write header for %s: %w", path, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer src.Close()

	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("archive: copy %s: %w", path, err)
	}
	return nil
}

// addEmptyDir tars emptyTempPath's own (empty) contents under arcDir's
// name relative to dataRoot, recreating org/server temp directories in
// the archive without requiring they exist or have contents on disk.
func addEmptyDir(tw *tar.Writer, dataRoot, emptyTempPath, arcDir string) error {
	info, err := os.Stat(emptyTempPath)
	if err != nil {
		return fmt.Errorf("archive: stat empty temp dir: %w", err)
	}

	arcname, err := filepath.Rel(dataRoot, arcDir)
	if err != nil {
		return fmt.Errorf("archive: relativize %s: %w", arcDir, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("archive: header for temp dir: %w", err)
	}
	header.Name = filepath.ToSlash(arcname) + "/"
	header.Typeflag = tar.TypeDir

	return tw.WriteHeader(header)
}
