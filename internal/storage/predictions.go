package storage

import (
	"errors"
	"fmt"
	"time"

	"churn-api/internal/features"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Source of a prediction record.
const (
	SourceSingle = "single"
	SourceBatch  = "batch"
)

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	ID               string            `json:"id"`
	Source           string            `json:"source"`
	Timestamp        time.Time         `json:"timestamp"`
	Customer         features.Customer `json:"customer"`
	ChurnProbability float64           `json:"churn_probability"`
	Prediction       int               `json:"prediction"`
	RiskLevel        string            `json:"risk_level,omitempty"`
	Cached           bool              `json:"cached,omitempty"`
}

// StorePredictions writes records in one transaction.
func (s *Store) StorePredictions(records ...PredictionRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal prediction record: %w", err)
			}

			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}

			if err := b.Put(recordKey(record.Timestamp, seq), data); err != nil {
				return fmt.Errorf("put prediction record: %w", err)
			}
		}
		return nil
	})
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]PredictionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []PredictionRecord{}, nil
	}

	records := make([]PredictionRecord, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// Between returns records with start <= timestamp <= end, oldest first.
// A zero start or end leaves that side of the range open.
func (s *Store) Between(start, end time.Time) ([]PredictionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	var records []PredictionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		var k, v []byte
		if start.IsZero() {
			k, v = c.First()
		} else {
			k, v = c.Seek(timeKey(start))
		}
		// Every key at exactly end sorts before end+1ns.
		var endKey []byte
		if !end.IsZero() {
			endKey = timeKey(end.Add(time.Nanosecond))
		}

		for ; k != nil && (endKey == nil || compareKeys(k, endKey) < 0); k, v = c.Next() {
			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
