// Package backup runs the optional scheduled full-archive job: on a cron
// expression from config, export the full data directory and, if an
// S3Store is configured, copy it off-site under backups/{filename}.
// Gated by leader election in multi-replica deployments, the same way
// the teacher gates its scheduler/reaper/trigger workers.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/rat-data/ratd-core/internal/archive"
	"github.com/rat-data/ratd-core/internal/storage"
)

// Job runs the scheduled archive export.
type Job struct {
	cron     *cron.Cron
	exporter *archive.Exporter
	offsite  *storage.S3Store // nil disables the off-site copy
	prefix   string
	entryID  cron.EntryID
}

// New builds a Job that fires on cronExpr. offsite may be nil to disable
// the off-site copy; prefix namespaces the uploaded object key (joined as
// "prefix/filename").
func New(cronExpr string, exporter *archive.Exporter, offsite *storage.S3Store, prefix string) (*Job, error) {
	j := &Job{
		cron:     cron.New(),
		exporter: exporter,
		offsite:  offsite,
		prefix:   prefix,
	}

	entryID, err := j.cron.AddFunc(cronExpr, j.run)
	if err != nil {
		return nil, fmt.Errorf("backup: invalid cron expression %q: %w", cronExpr, err)
	}
	j.entryID = entryID

	return j, nil
}

// Start begins the cron scheduler in a background goroutine.
func (j *Job) Start() {
	j.cron.Start()
}

// Stop stops the cron scheduler, waiting for any in-flight run to finish.
func (j *Job) Stop() {
	<-j.cron.Stop().Done()
}

// run exports a full archive and, if configured, uploads it off-site.
// Errors are logged, never panicked — a failed scheduled backup should
// not take down the process, only wait for the next tick.
func (j *Job) run() {
	ctx := context.Background()

	filename, r, cleanup, err := j.exporter.Export(ctx)
	if err != nil {
		slog.Error("backup: export failed", "error", err)
		return
	}
	defer cleanup()

	slog.Info("backup: exported archive", "filename", filename)

	if j.offsite == nil {
		return
	}

	size, err := fileSize(r)
	if err != nil {
		slog.Error("backup: failed to size archive for upload", "filename", filename, "error", err)
		return
	}

	key := j.prefix + "/" + filename
	if err := j.offsite.Upload(ctx, key, r, size); err != nil {
		slog.Error("backup: off-site upload failed", "key", key, "error", err)
		return
	}

	slog.Info("backup: uploaded archive off-site", "key", key)
}

// fileSize returns r's size without consuming it, required by S3Store's
// PutObject-backed Upload which needs an exact byte count up front.
// Export's scratch file is the only kind of reader this job ever sees.
func fileSize(r io.Reader) (int64, error) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, fmt.Errorf("backup: archive reader is not a file")
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
