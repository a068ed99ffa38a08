package accounts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/dbx"
	"github.com/dmitrijs2005/licensekeeper/internal/filex"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// FileStore keeps all accounts in memory and mirrors them to a single JSON
// document. An empty path gives a purely in-memory store.
//
// A critical section stages its writes privately. On commit the complete
// table with the staged changes applied is written to disk first; the
// in-memory table is updated only after that write succeeds.
type FileStore struct {
	path  string
	locks *dbx.KeyLocker

	mu       sync.RWMutex
	accounts map[string]*models.Account

	// commitMu serializes snapshot writes so the file always reflects a
	// prefix of committed sections.
	commitMu sync.Mutex

	writeFile func(path string, data []byte) error
}

// NewFileStore loads path if it exists. A missing file starts an empty table.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		locks:    dbx.NewKeyLocker(),
		accounts: make(map[string]*models.Account),
		writeFile: func(path string, data []byte) error {
			return filex.WriteFileAtomic(path, data, 0o600)
		},
	}

	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(b) == 0 {
		return s, nil
	}

	accts, err := decodeAccounts(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	s.accounts = accts

	return s, nil
}

// NewMemoryStore returns a FileStore that never touches the disk.
func NewMemoryStore() *FileStore {
	s, _ := NewFileStore("")
	return s
}

func (s *FileStore) Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, repo Repository) error) error {
	unlock, err := s.locks.LockAll(ctx, keys)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &fileTx{store: s, staged: make(map[string]*models.Account)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	return s.commit(tx.staged)
}

func (s *FileStore) commit(staged map[string]*models.Account) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.path != "" {
		s.mu.RLock()
		next := make(map[string]*models.Account, len(s.accounts)+len(staged))
		for k, v := range s.accounts {
			next[k] = v
		}
		s.mu.RUnlock()
		applyStaged(next, staged)

		b, err := encodeAccounts(next)
		if err != nil {
			return fmt.Errorf("encode accounts: %w", err)
		}
		if err := s.writeFile(s.path, b); err != nil {
			return fmt.Errorf("persist accounts: %w", err)
		}
	}

	s.mu.Lock()
	applyStaged(s.accounts, staged)
	s.mu.Unlock()

	return nil
}

func applyStaged(dst map[string]*models.Account, staged map[string]*models.Account) {
	for name, a := range staged {
		if a == nil {
			delete(dst, name)
			continue
		}
		dst[name] = a
	}
}

func (s *FileStore) Get(ctx context.Context, username string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a.Clone(), nil
}

func (s *FileStore) List(ctx context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

// fileTx is the Repository handed to a FileStore critical section.
// A nil value in staged marks a deletion.
type fileTx struct {
	store  *FileStore
	staged map[string]*models.Account
}

func (t *fileTx) lookup(username string) (*models.Account, bool) {
	if a, ok := t.staged[username]; ok {
		return a, a != nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.accounts[username]
	return a, ok
}

func (t *fileTx) Get(ctx context.Context, username string) (*models.Account, error) {
	a, ok := t.lookup(username)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a.Clone(), nil
}

func (t *fileTx) Insert(ctx context.Context, acct *models.Account) error {
	if _, ok := t.lookup(acct.Username); ok {
		return common.ErrAlreadyExists
	}
	t.staged[acct.Username] = acct.Clone()
	return nil
}

func (t *fileTx) Save(ctx context.Context, acct *models.Account) error {
	if _, ok := t.lookup(acct.Username); !ok {
		return common.ErrorNotFound
	}
	t.staged[acct.Username] = acct.Clone()
	return nil
}

func (t *fileTx) Delete(ctx context.Context, username string) error {
	if _, ok := t.lookup(username); !ok {
		return common.ErrorNotFound
	}
	t.staged[username] = nil
	return nil
}

func (t *fileTx) CountTrialUsers(ctx context.Context, fp string) (int, error) {
	n := 0

	t.store.mu.RLock()
	for name, a := range t.store.accounts {
		if _, overridden := t.staged[name]; overridden {
			continue
		}
		if a.OccupiesTrialSlot(fp) {
			n++
		}
	}
	t.store.mu.RUnlock()

	for _, a := range t.staged {
		if a != nil && a.OccupiesTrialSlot(fp) {
			n++
		}
	}

	return n, nil
}
