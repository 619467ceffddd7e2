package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
)

const (
	accountsFileMode = 0o600
	accountsDirMode  = 0o700
	tempFilePattern  = ".accounts-*.tmp"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ Store = (*FileStore)(nil)

// FileStore keeps every account in one document and rewrites it whole on
// each change. Files ending in .toml are TOML; anything else is a JSON array.
type FileStore struct {
	path   string
	isTOML bool
	mu     *sync.RWMutex
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("accounts path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts path: %w", err)
	}
	abs = filepath.Clean(abs)
	return &FileStore{
		path:   abs,
		isTOML: strings.EqualFold(filepath.Ext(abs), ".toml"),
		mu:     lockForPath(abs),
	}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context, id string) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return fromRecord(r)
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if strings.EqualFold(r.Email, email) {
			return fromRecord(r)
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) List(ctx context.Context) ([]*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Account, 0, len(records))
	for _, r := range records {
		a, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FileStore) Upsert(ctx context.Context, a entity.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.ID == "" {
		return errors.New("account id is empty")
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}

	rec := toRecord(a)
	idx := -1
	for i := range records {
		if records[i].ID == rec.ID {
			idx = i
			continue
		}
		if strings.EqualFold(records[i].Email, rec.Email) {
			return ErrDuplicateEmail
		}
	}
	if idx >= 0 {
		records[idx] = rec
	} else {
		records = append(records, rec)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(records)
}

func (s *FileStore) read() ([]accountRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	if s.isTOML {
		var file tomlFile
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decode accounts file: %w", err)
		}
		if err := file.validateVersion(); err != nil {
			return nil, err
		}
		return file.Accounts, nil
	}

	var records []accountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	return records, nil
}

func (s *FileStore) encode(records []accountRecord) ([]byte, error) {
	if records == nil {
		records = []accountRecord{}
	}
	if s.isTOML {
		return toml.Marshal(tomlFile{Version: currentSchemaVersion, Accounts: records})
	}
	return json.MarshalIndent(records, "", "  ")
}

// write replaces the file via a synced temp file and rename so readers never
// observe a partial document.
func (s *FileStore) write(records []accountRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	data, err := s.encode(records)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}
	if err := tempFile.Chmod(accountsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp accounts file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	cleanup = false
	return nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
