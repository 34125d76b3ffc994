package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
)

const (
	// recordsBucket stores the wifi, mqtt, unit and others records as JSON
	recordsBucket = "_records"

	// consoleBucket stores console log entries keyed by timestamp
	consoleBucket = "_console"
)

// BoltStorage is a bbolt implementation of the Storage interface
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage creates a new BoltStorage instance
// The database file will be created if it doesn't exist
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return fmt.Errorf("failed to create records bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(consoleBucket)); err != nil {
			return fmt.Errorf("failed to create console bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// getRecord decodes the record at key over v, so keys missing from the
// stored JSON keep the values v already holds
func (s *BoltStorage) getRecord(key string, v interface{}) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		if len(data) > config.MaxRecordSize {
			return fmt.Errorf("%s: %d bytes: %w", key, len(data), ErrCorrupt)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%s: %v: %w", key, err, ErrCorrupt)
		}
		return nil
	})
}

func (s *BoltStorage) putRecord(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}
		return bucket.Put([]byte(key), data)
	})
}

// LoadWifi returns the wifi record, or defaults when absent or corrupt
func (s *BoltStorage) LoadWifi() (config.WifiRecord, error) {
	r := config.DefaultWifi()
	if err := s.getRecord(KeyWifi, &r); err != nil {
		return config.DefaultWifi(), err
	}
	return r.Normalize(), nil
}

// SaveWifi stores the wifi record
func (s *BoltStorage) SaveWifi(r config.WifiRecord) error {
	return s.putRecord(KeyWifi, r.Normalize())
}

// LoadMqtt returns the broker record, or defaults when absent or corrupt
func (s *BoltStorage) LoadMqtt() (config.MqttRecord, error) {
	r := config.DefaultMqtt()
	if err := s.getRecord(KeyMqtt, &r); err != nil {
		return config.DefaultMqtt(), err
	}
	return r.Normalize(), nil
}

// SaveMqtt stores the broker record
func (s *BoltStorage) SaveMqtt(r config.MqttRecord) error {
	return s.putRecord(KeyMqtt, r.Normalize())
}

// LoadUnit returns the unit record, or defaults when absent or corrupt
func (s *BoltStorage) LoadUnit() (config.UnitRecord, error) {
	r := config.DefaultUnit()
	if err := s.getRecord(KeyUnit, &r); err != nil {
		return config.DefaultUnit(), err
	}
	return r.Normalize(), nil
}

// SaveUnit stores the unit record
func (s *BoltStorage) SaveUnit(r config.UnitRecord) error {
	return s.putRecord(KeyUnit, r.Normalize())
}

// LoadOthers returns the others record, or defaults when absent or corrupt
func (s *BoltStorage) LoadOthers() (config.OthersRecord, error) {
	r := config.DefaultOthers()
	if err := s.getRecord(KeyOthers, &r); err != nil {
		return config.DefaultOthers(), err
	}
	return r.Normalize(), nil
}

// SaveOthers stores the others record
func (s *BoltStorage) SaveOthers(r config.OthersRecord) error {
	return s.putRecord(KeyOthers, r.Normalize())
}

// DeleteAll removes every record and the console log
func (s *BoltStorage) DeleteAll() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{recordsBucket, consoleBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return fmt.Errorf("failed to recreate %s: %w", name, err)
			}
		}
		return nil
	})
}

// Console Methods

// AppendConsole stores one console entry
func (s *BoltStorage) AppendConsole(ts time.Time, entry []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(consoleBucket))
		if bucket == nil {
			return fmt.Errorf("console bucket not found")
		}

		// Unix nano keys sort chronologically; bump on collision
		nano := ts.UnixNano()
		key := []byte(fmt.Sprintf("%020d", nano))
		for bucket.Get(key) != nil {
			nano++
			key = []byte(fmt.Sprintf("%020d", nano))
		}
		return bucket.Put(key, entry)
	})
}

// Console returns the last limit entries, oldest first
func (s *BoltStorage) Console(limit int) ([][]byte, error) {
	var entries [][]byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(consoleBucket))
		if bucket == nil {
			return fmt.Errorf("console bucket not found")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			// values are only valid inside the transaction
			entries = append(entries, append([]byte(nil), v...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// TrimConsole keeps only the last max entries
func (s *BoltStorage) TrimConsole(max int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(consoleBucket))
		if bucket == nil {
			return fmt.Errorf("console bucket not found")
		}

		var count int
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			count++
		}
		if count <= max {
			return nil
		}

		toDelete := count - max
		cursor = bucket.Cursor()
		for k, _ := cursor.First(); k != nil && toDelete > 0; k, _ = cursor.First() {
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("failed to delete old entry: %w", err)
			}
			toDelete--
		}
		return nil
	})
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
