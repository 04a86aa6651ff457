package graphmail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileTokenStore persists one token file per connected account under a
// directory. Files are mode 0600; tokens grant mailbox read access.
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore creates the store, making the directory if needed.
func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, eris.Wrap(err, "graphmail: create token dir")
	}
	return &FileTokenStore{dir: dir}, nil
}

// Save writes the account's token file.
func (s *FileTokenStore) Save(address string, tok *Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return eris.Wrap(err, "graphmail: marshal token")
	}
	if err := os.WriteFile(s.path(address), data, 0o600); err != nil {
		return eris.Wrap(err, "graphmail: write token file")
	}
	return nil
}

// Load reads the account's token file.
func (s *FileTokenStore) Load(address string) (*Token, error) {
	data, err := os.ReadFile(s.path(address))
	if err != nil {
		return nil, eris.Wrapf(err, "graphmail: read token for %s", address)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, eris.Wrap(err, "graphmail: unmarshal token")
	}
	return &tok, nil
}

// Connected reports whether a token file exists for the address.
func (s *FileTokenStore) Connected(address string) bool {
	_, err := os.Stat(s.path(address))
	return err == nil
}

func (s *FileTokenStore) path(address string) string {
	name := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_").Replace(address)
	return filepath.Join(s.dir, name+".json")
}
