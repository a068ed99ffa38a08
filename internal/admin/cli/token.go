package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/licensekeeper/internal/filex"
)

type tokenStore struct {
	path string
}

// Load returns the saved token or "" when there is none.
func (s *tokenStore) Load() (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *tokenStore) Save(token string) error {
	return filex.WriteFileAtomic(s.path, []byte(token), 0o600)
}

func (s *tokenStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
