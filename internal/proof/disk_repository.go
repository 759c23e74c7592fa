package proof

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// Repository stores artifacts by the content id of their request. Find returns nil
// when nothing is stored under id.
type Repository interface {
	Find(ctx context.Context, id string) (*Artifact, error)
	Save(ctx context.Context, id string, artifact *Artifact) error
	Close()
}

const tmpSuffix = ".tmp"

type DiskRepository struct {
	baseDir      string
	deleteBefore time.Duration
	closeContext context.Context
	close        context.CancelFunc
}

// NewDiskRepository stores artifacts as files in baseDir. A positive retention starts
// a sweep that deletes artifacts older than it, and files that no longer decode.
func NewDiskRepository(baseDir string, retention time.Duration) (*DiskRepository, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "os.MkdirAll failed")
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	disk := &DiskRepository{
		baseDir:      baseDir,
		deleteBefore: retention,
		closeContext: ctx,
		close:        cancelFunc,
	}
	if retention > 0 {
		go disk.scheduleDeleteOldArtifacts(10 * time.Minute)
	}
	return disk, nil
}

func (r *DiskRepository) path(id string) string { return filepath.Join(r.baseDir, id) }

func (r *DiskRepository) Find(ctx context.Context, id string) (*Artifact, error) {
	file, err := os.ReadFile(r.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read artifact %s", id)
	}
	return LoadArtifact(bytes.NewReader(file))
}

// Save writes through a temporary file so a crash never leaves a truncated artifact.
func (r *DiskRepository) Save(ctx context.Context, id string, artifact *Artifact) error {
	enc, err := artifact.Encode()
	if err != nil {
		return err
	}
	tmp := r.path(id) + tmpSuffix
	if err := os.WriteFile(tmp, enc, 0o644); err != nil {
		return errors.Wrap(err, "os.WriteFile failed")
	}
	return errors.Wrap(os.Rename(tmp, r.path(id)), "failed to move artifact into place")
}

func (r *DiskRepository) Close() { r.close() }

func (r *DiskRepository) scheduleDeleteOldArtifacts(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deletedCount := r.deleteOldArtifacts(time.Now().Add(-r.deleteBefore))
			log.Info("deleted old artifacts", "count", deletedCount)
		case <-r.closeContext.Done():
			return
		}
	}
}

// deleteOldArtifacts deletes artifacts stored before the given time.
func (r *DiskRepository) deleteOldArtifacts(before time.Time) (deletedCount int) {
	files, _ := os.ReadDir(r.baseDir)
	for _, file := range files {
		info, err := file.Info()
		if err != nil || file.IsDir() {
			continue
		}
		// a .tmp file may be a Save in progress, only its age counts
		unreadable := func() bool {
			if strings.HasSuffix(file.Name(), tmpSuffix) {
				return false
			}
			_, err := r.Find(context.Background(), file.Name())
			return err != nil
		}
		if info.ModTime().Before(before) || unreadable() {
			if err := os.Remove(r.path(file.Name())); err != nil {
				log.Warn("failed to delete old artifact", "file", file.Name(), "err", err)
			} else {
				deletedCount++
			}
		}
	}
	return
}
