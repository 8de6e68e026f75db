package keyValStore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

var log *logrus.Logger

type StoreConfig struct {
	Paths            []string // absolute path, at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Paths[0], err)
	}

	err = displayDiskUsage(config.Paths)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		return fmt.Errorf("error writing key %s: %w", hex.EncodeToString(key), err)
	}
	return nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)
	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", hex.EncodeToString(key), err)
	}
	return value, nil
}

// Exists reports whether key is present without reading its value.
func (k *KeyValStore) Exists(key []byte) (bool, error) {
	atomic.AddUint64(&k.readCounter, 1)
	var exists bool
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// IsNotFound reports whether err came from a Read of a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// IncrementCounter atomically increments the uint64 counter stored under key
// and returns the new value. A missing counter starts at zero, so the first
// call returns 1.
func (k *KeyValStore) IncrementCounter(key []byte) (uint64, error) {
	var next uint64
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		var current uint64
		item, err := txn.Get(key)
		if err == nil {
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(value) != 8 {
				return fmt.Errorf("counter %s has %d bytes, want 8", hex.EncodeToString(key), len(value))
			}
			current = binary.BigEndian.Uint64(value)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		next = current + 1
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		return txn.Set(key, buf[:])
	})
	if err != nil {
		return 0, fmt.Errorf("error incrementing counter %s: %w", hex.EncodeToString(key), err)
	}
	return next, nil
}

// ReadCounter returns the current value of the counter stored under key, or
// zero if the counter does not exist yet.
func (k *KeyValStore) ReadCounter(key []byte) (uint64, error) {
	value, err := k.Read(key)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("counter %s has %d bytes, want 8", hex.EncodeToString(key), len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// WriteCompressed xz-compresses content before storing it. Ciphertext blobs
// are large and compress well enough to be worth the CPU.
func (k *KeyValStore) WriteCompressed(key []byte, content []byte) error {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("error creating xz writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("error compressing value: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("error closing xz writer: %w", err)
	}
	return k.Write(key, buf.Bytes())
}

// ReadCompressed reads and decompresses a value written by WriteCompressed.
func (k *KeyValStore) ReadCompressed(key []byte) ([]byte, error) {
	compressed, err := k.Read(key)
	if err != nil {
		return nil, err
	}
	r, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("error creating xz reader: %w", err)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error decompressing value: %w", err)
	}
	return content, nil
}

// will return all keys and values with the given prefix
func (k *KeyValStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	atomic.AddUint64(&k.readCounter, 1)
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{k, v})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning prefix %s: %w", hex.EncodeToString(prefix), err)
	}
	return keysAndValues, nil
}

func (k *KeyValStore) Close() {
	k.Clean()
	k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	} else {
		log.Info("DB Flattened")
	}

	// clean badgerDB
	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil {
		if err != badger.ErrNoRewrite {
			return fmt.Errorf("error cleaning db: %w", err)
		}
	}

	return nil
}
