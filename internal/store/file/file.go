package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/roomchat-server/internal/store"
	"github.com/vovakirdan/roomchat-server/internal/utils"
)

// FileStore keeps one yaml document per entity:
// <clientsDir>/<id>/<id>.yaml and <roomsDir>/<id>/<id>.yaml.
type FileStore struct {
	clientsDir string
	roomsDir   string
}

var _ store.Store = (*FileStore)(nil)

// New creates both directories if needed.
func New(clientsDir, roomsDir string) (*FileStore, error) {
	for _, dir := range []string{clientsDir, roomsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	return &FileStore{clientsDir: clientsDir, roomsDir: roomsDir}, nil
}

// Close is a no-op, every call opens and closes its own files.
func (s *FileStore) Close() error {
	return nil
}

// ==== ClientStore implementation ====

func (s *FileStore) LoadClient(_ context.Context, id int64) (*store.Client, error) {
	var c store.Client
	if err := readEntity(entityPath(s.clientsDir, id), &c); err != nil {
		return nil, fmt.Errorf("load client %d: %w", id, err)
	}
	return &c, nil
}

func (s *FileStore) SaveClient(_ context.Context, c *store.Client) error {
	if err := writeEntity(entityPath(s.clientsDir, c.ID), c); err != nil {
		return fmt.Errorf("save client %d: %w", c.ID, err)
	}
	return nil
}

func (s *FileStore) ClientExists(_ context.Context, id int64) (bool, error) {
	return exists(entityPath(s.clientsDir, id))
}

// ==== RoomStore implementation ====

func (s *FileStore) LoadRoom(_ context.Context, id int64) (*store.Room, error) {
	var r store.Room
	if err := readEntity(entityPath(s.roomsDir, id), &r); err != nil {
		return nil, fmt.Errorf("load room %d: %w", id, err)
	}
	return &r, nil
}

func (s *FileStore) SaveRoom(_ context.Context, r *store.Room) error {
	if err := writeEntity(entityPath(s.roomsDir, r.ID), r); err != nil {
		return fmt.Errorf("save room %d: %w", r.ID, err)
	}
	return nil
}

func (s *FileStore) DeleteRoom(_ context.Context, id int64) error {
	dir := filepath.Join(s.roomsDir, strconv.FormatInt(id, 10))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete room %d: %w", id, err)
	}
	return nil
}

func (s *FileStore) RoomExists(_ context.Context, id int64) (bool, error) {
	return exists(entityPath(s.roomsDir, id))
}

func (s *FileStore) RoomIDs(_ context.Context) ([]int64, error) {
	entries, err := os.ReadDir(s.roomsDir)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if ok, _ := exists(entityPath(s.roomsDir, id)); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func entityPath(root string, id int64) string {
	name := strconv.FormatInt(id, 10)
	return filepath.Join(root, name, name+".yaml")
}

func readEntity(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.ErrNotFound
		}
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeEntity(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return utils.WriteFileAtomic(path, data, 0o600)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
