package persistence

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tianxingj2021/wangge/pkg/logger"
)

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// Store 基于 Badger 的本地 KV 存储
// 用于保存订单对账器的本地订单快照，进程重启后先加载再对账，
// 避免重复下单。
type Store struct {
	db *badger.DB
}

// Open 打开（或创建）数据目录下的存储
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger 自带日志太吵，统一走 logrus
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 数据库失败: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func fullKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

// Put 保存一条 JSON 序列化的记录
func (s *Store) Put(bucket, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullKey(bucket, key), b)
	})
}

// Get 读取一条记录并反序列化到 out
func (s *Store) Get(bucket, key string, out interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullKey(bucket, key))
		if err == badger.ErrKeyNotFound {
			return ErrNotExists
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// Delete 删除一条记录
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey(bucket, key))
	})
}

// List 遍历 bucket 下的所有记录
func (s *Store) List(bucket string, fn func(key string, value []byte) error) error {
	prefix := []byte(bucket + "/")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				return fn(key, append([]byte(nil), val...))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropBucket 删除 bucket 下的所有记录（策略删除时清理）
func (s *Store) DropBucket(bucket string) error {
	prefix := []byte(bucket + "/")
	keys := make([][]byte, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(k)
		}); err != nil {
			logger.Warnf("删除持久化记录失败 key=%s: %v", k, err)
		}
	}
	return nil
}
