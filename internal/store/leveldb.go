package store

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
)

type levelKV struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*DocumentProvider, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, err
	}
	return FromLevelDB(db), nil
}

// FromLevelDB wraps an already open database.
func FromLevelDB(db *leveldb.DB) *DocumentProvider {
	return &DocumentProvider{kv: &levelKV{db: db}}
}

func (l *levelKV) get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *levelKV) put(key, value []byte) error {
	return l.db.Put(key, value, &ldb_opt.WriteOptions{Sync: true})
}

func (l *levelKV) ping() error {
	_, err := l.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

func (l *levelKV) close() error {
	return l.db.Close()
}
