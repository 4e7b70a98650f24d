package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/domain"
	"github.com/hikari-mc/chatcore-go/pkg/chaterr"
)

// FileStore keeps the dataset in a single JSON document on disk. Saves go
// through a temp file and rename so an interrupted write never truncates the
// previous document.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

func (fs *FileStore) Load(_ context.Context) (*domain.Snapshot, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			fs.logger.Info("No channel document found, starting empty",
				zap.String("path", fs.path))
			return domain.EmptySnapshot(), nil
		}
		return nil, chaterr.StorageLoad(fmt.Sprintf("failed to read %s", fs.path), err)
	}

	snapshot := domain.EmptySnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, chaterr.StorageLoad(fmt.Sprintf("failed to parse %s", fs.path), err)
	}
	normalize(snapshot)

	return snapshot, nil
}

func (fs *FileStore) Save(_ context.Context, snapshot *domain.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return chaterr.StorageSave("failed to encode channel document", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return chaterr.StorageSave(fmt.Sprintf("failed to create %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".channels-*.json")
	if err != nil {
		return chaterr.StorageSave("failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chaterr.StorageSave("failed to write channel document", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return chaterr.StorageSave("failed to close channel document", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return chaterr.StorageSave(fmt.Sprintf("failed to replace %s", fs.path), err)
	}

	return nil
}

func (fs *FileStore) Close() error {
	return nil
}

// normalize fills maps a hand-edited or older document may omit.
func normalize(snapshot *domain.Snapshot) {
	if snapshot.Version == 0 {
		snapshot.Version = domain.SnapshotVersion
	}
	if snapshot.Channels == nil {
		snapshot.Channels = make(map[string]domain.Channel)
	}
	if snapshot.Members == nil {
		snapshot.Members = make(map[string][]domain.Membership)
	}
	if snapshot.ActiveChannels == nil {
		snapshot.ActiveChannels = make(map[string]string)
	}
}
