package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store 静态加密的小型 KV（badger）。
// 加密由 badger 选项提供（value log + key registry），不是本包实现。
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为 nil 时不加密打开（不建议）
	ReadOnly      bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 badger 要求开启 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString 读取；第二个返回值表示 key 是否存在
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, errors.New("secretstore: key is empty")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (s *Store) SetString(key string, val string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("secretstore: key is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// Credentials 交易所 API 凭证
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // OKX 需要
}

// Empty 是否未配置
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// VenueKey 返回交易所凭证在库中的 key，例如 env/BINANCE_API_KEY
func VenueKey(prefix, venue, field string) string {
	return prefix + strings.ToUpper(venue) + "_" + field
}

// LoadCredentials 读取某个交易所的凭证；缺失的字段留空
func (s *Store) LoadCredentials(prefix, venue string) (Credentials, error) {
	var c Credentials
	fields := []struct {
		name string
		dst  *string
	}{
		{"API_KEY", &c.APIKey},
		{"API_SECRET", &c.APISecret},
		{"API_PASSPHRASE", &c.Passphrase},
	}
	for _, f := range fields {
		v, _, err := s.GetString(VenueKey(prefix, venue, f.name))
		if err != nil {
			return Credentials{}, fmt.Errorf("secretstore: load %s %s: %w", venue, f.name, err)
		}
		*f.dst = v
	}
	return c, nil
}

// ParseKey 需要 32 字节（base64 或 hex）。输入为空时返回 nil。
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
