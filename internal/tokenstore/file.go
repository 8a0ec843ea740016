package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// FileStore keeps tokens in a JSON file so they survive a process restart.
// With a passphrase the file content is sealed with XChaCha20-Poly1305.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
}

type fileContent struct {
	Tokens map[Kind]string `json:"tokens"`
}

// NewFileStore creates a store backed by path. passphrase may be empty.
func NewFileStore(path, passphrase string) *FileStore {
	s := &FileStore{path: path}
	if passphrase != "" {
		sum := sha256.Sum256([]byte(passphrase))
		s.key = sum[:]
	}
	return s
}

func (s *FileStore) Get(_ context.Context, kind Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return "", err
	}
	return content.Tokens[kind], nil
}

func (s *FileStore) Set(_ context.Context, kind Kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return err
	}
	content.Tokens[kind] = value
	return s.write(content)
}

func (s *FileStore) Clear(_ context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := content.Tokens[kind]; !ok {
		return nil
	}
	delete(content.Tokens, kind)
	return s.write(content)
}

func (s *FileStore) read() (fileContent, error) {
	content := fileContent{Tokens: make(map[Kind]string)}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return content, nil
	}
	if err != nil {
		return content, fmt.Errorf("read token file: %w", err)
	}
	if len(raw) == 0 {
		return content, nil
	}
	if s.key != nil {
		raw, err = s.open(raw)
		if err != nil {
			return content, err
		}
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return content, fmt.Errorf("decode token file: %w", err)
	}
	if content.Tokens == nil {
		content.Tokens = make(map[Kind]string)
	}
	return content, nil
}

func (s *FileStore) write(content fileContent) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	if s.key != nil {
		raw, err = s.seal(raw)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("token file too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal token file: %w", err)
	}
	return plain, nil
}
