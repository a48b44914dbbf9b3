package persistence

import (
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
)

// BadgerService 基于 badger 的持久化服务；写入带 TTL，过期数据由 badger 自行回收。
type BadgerService struct {
	db  *badger.DB
	ttl time.Duration
}

// BadgerOptions 打开参数
type BadgerOptions struct {
	Path     string
	TTL      time.Duration // 0 表示永不过期
	InMemory bool          // 测试用
}

// OpenBadger 打开（或创建）badger 持久化服务
func OpenBadger(opts BadgerOptions) (*BadgerService, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("persistence: badger path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open badger %s", opts.Path)
	}
	return &BadgerService{db: db, ttl: opts.TTL}, nil
}

// Close 关闭数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{service: s, key: []byte(storeKey(prefix, id, tag))}
}

// BadgerStore badger 存储实现
type BadgerStore struct {
	service *BadgerService
	key     []byte
}

// Save 保存数据
func (s *BadgerStore) Save(data interface{}) error {
	if s.service == nil || s.service.db == nil {
		return errors.New("persistence: badger not opened")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.service.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.key, b)
		if s.service.ttl > 0 {
			e = e.WithTTL(s.service.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Load 加载数据；key 不存在或已过期返回 ErrNotExists
func (s *BadgerStore) Load(data interface{}) error {
	if s.service == nil || s.service.db == nil {
		return errors.New("persistence: badger not opened")
	}
	var raw []byte
	err := s.service.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotExists
	}
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(raw, data)
}
