package proof

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDiskSaveAndFind(t *testing.T) {
	disk := newTestDiskRepository(t)
	input := disk.saveTestArtifacts(t, 1)
	result, err := disk.Find(context.Background(), "0")
	require.NoError(t, err)
	require.Equal(t, input[0], result)

	missing, err := disk.Find(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeleteOldArtifacts(t *testing.T) {
	disk := newTestDiskRepository(t)
	artifacts := disk.saveTestArtifacts(t, 10)
	now := time.Now()
	for i := range artifacts {
		// artifact i was stored i hours ago
		stored := now.Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(disk.path(strconv.Itoa(i)), stored, stored))
	}
	require.NoError(t, os.WriteFile(disk.path("corrupt"), []byte{0xff}, 0o644))

	deleted := disk.deleteOldArtifacts(now.Add(-time.Duration(len(artifacts)/2)*time.Hour + time.Minute))
	require.Equal(t, len(artifacts)/2+1, deleted)
	files, err := os.ReadDir(disk.baseDir)
	require.NoError(t, err)
	require.Len(t, files, len(artifacts)/2)
}

func newTestDiskRepository(t *testing.T) *DiskRepository {
	disk, err := NewDiskRepository(filepath.Join(t.TempDir(), "artifacts"), 0)
	require.NoError(t, err)
	t.Cleanup(disk.Close)
	return disk
}

func (r *DiskRepository) saveTestArtifacts(t *testing.T, count int) (result []*Artifact) {
	for i := 0; i < count; i++ {
		journal := []byte("test-" + strconv.Itoa(i))
		receipt := NewReceipt(Succinct, testImageID, common.Hash{byte(i)}, journal, []byte("seal-"+strconv.Itoa(i)))
		result = append(result, NewArtifact(testImageID, "mainnet", receipt))
		require.NoError(t, r.Save(context.Background(), strconv.Itoa(i), result[len(result)-1]))
	}
	return
}

func TestDeleteOldArtifactsKeepsSaveInProgress(t *testing.T) {
	disk := newTestDiskRepository(t)
	partial := disk.path("pending") + tmpSuffix
	require.NoError(t, os.WriteFile(partial, []byte{0xf8}, 0o644))
	require.Zero(t, disk.deleteOldArtifacts(time.Now().Add(-time.Hour)))
	require.FileExists(t, partial)

	// a stale one left by a crash goes once it is old
	stored := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(partial, stored, stored))
	require.Equal(t, 1, disk.deleteOldArtifacts(time.Now().Add(-time.Hour)))
	require.NoFileExists(t, partial)
}
