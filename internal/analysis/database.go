package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

const (
	analysesBucket = "analyses"
	costsBucket    = "workshop_costs"
)

// errUnchanged is returned by an update function to leave the stored
// analysis as it is. UpdateAnalysis then returns the stored analysis.
var errUnchanged = errors.New("analysis unchanged")

// DB defines the interface for database operations
type DB interface {
	// SaveAnalysis saves an analysis to the database. Overwriting a
	// completed or failed analysis with another status fails with
	// valuation.ErrConflict.
	SaveAnalysis(analysis *Analysis) error

	// UpdateAnalysis reads the analysis, applies fn and stores the result in
	// one write transaction. fn learns whether workshop costs exist. An error
	// from fn aborts the write; errUnchanged aborts it without failing.
	UpdateAnalysis(id string, fn func(analysis *Analysis, costsRecorded bool) error) (*Analysis, error)

	// GetAnalysis retrieves an analysis by ID
	GetAnalysis(id string) (*Analysis, error)

	// ListAnalyses returns all analyses
	ListAnalyses() ([]*Analysis, error)

	// SaveWorkshopCosts reads the analysis, applies fn and stores the costs
	// with the updated analysis in one write transaction. Costs are
	// write-once: a second call fails with valuation.ErrConflict and changes
	// nothing.
	SaveWorkshopCosts(id string, costs *valuation.WorkshopCostRecord, fn func(analysis *Analysis) error) (*Analysis, error)

	// GetWorkshopCosts retrieves the costs recorded for an analysis
	GetWorkshopCosts(analysisID string) (*valuation.WorkshopCostRecord, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{analysesBucket, costsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveAnalysis saves an analysis to the database
func (b *BoltDB) SaveAnalysis(analysis *Analysis) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		stored, err := getAnalysis(tx, analysis.ID)
		switch {
		case err == nil:
			if err := checkStored(analysis.ID, stored.Status, analysis.Status); err != nil {
				return err
			}
		case !errors.Is(err, valuation.ErrNotFound):
			return err
		}
		return putAnalysis(tx, analysis)
	})
}

// UpdateAnalysis applies fn to the stored analysis inside one write
// transaction
func (b *BoltDB) UpdateAnalysis(id string, fn func(analysis *Analysis, costsRecorded bool) error) (*Analysis, error) {
	var analysis *Analysis
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		analysis, err = getAnalysis(tx, id)
		if err != nil {
			return err
		}
		stored := analysis.Status
		costsRecorded := tx.Bucket([]byte(costsBucket)).Get([]byte(id)) != nil

		if err := fn(analysis, costsRecorded); err != nil {
			return err
		}
		if err := checkStored(id, stored, analysis.Status); err != nil {
			return err
		}
		return putAnalysis(tx, analysis)
	})
	if errors.Is(err, errUnchanged) {
		return b.GetAnalysis(id)
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func getAnalysis(tx *bbolt.Tx, id string) (*Analysis, error) {
	data := tx.Bucket([]byte(analysesBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("analysis %s: %w", id, valuation.ErrNotFound)
	}
	var analysis Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("unmarshaling analysis: %w", err)
	}
	return &analysis, nil
}

func putAnalysis(tx *bbolt.Tx, analysis *Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshaling analysis: %w", err)
	}
	return tx.Bucket([]byte(analysesBucket)).Put([]byte(analysis.ID), data)
}

// GetAnalysis retrieves an analysis by ID
func (b *BoltDB) GetAnalysis(id string) (*Analysis, error) {
	var analysis *Analysis
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		analysis, err = getAnalysis(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// ListAnalyses returns all analyses
func (b *BoltDB) ListAnalyses() ([]*Analysis, error) {
	analyses := make([]*Analysis, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(analysesBucket)).ForEach(func(k, v []byte) error {
			var analysis Analysis
			if err := json.Unmarshal(v, &analysis); err != nil {
				return fmt.Errorf("unmarshaling analysis: %w", err)
			}
			analyses = append(analyses, &analysis)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

// SaveWorkshopCosts checks for existing costs, re-reads the analysis and
// inserts in one write transaction, so concurrent submissions cannot both
// succeed and a stale analysis cannot be written back.
func (b *BoltDB) SaveWorkshopCosts(id string, costs *valuation.WorkshopCostRecord, fn func(analysis *Analysis) error) (*Analysis, error) {
	var analysis *Analysis
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(costsBucket))
		if bucket.Get([]byte(id)) != nil {
			return fmt.Errorf("%w: workshop costs already recorded for analysis %s", valuation.ErrConflict, id)
		}

		var err error
		analysis, err = getAnalysis(tx, id)
		if err != nil {
			return err
		}
		stored := analysis.Status
		if err := fn(analysis); err != nil {
			return err
		}
		if err := checkStored(id, stored, analysis.Status); err != nil {
			return err
		}

		data, err := json.Marshal(costs)
		if err != nil {
			return fmt.Errorf("marshaling workshop costs: %w", err)
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return err
		}
		return putAnalysis(tx, analysis)
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// GetWorkshopCosts retrieves the costs recorded for an analysis
func (b *BoltDB) GetWorkshopCosts(analysisID string) (*valuation.WorkshopCostRecord, error) {
	var costs *valuation.WorkshopCostRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(costsBucket)).Get([]byte(analysisID))
		if data == nil {
			return fmt.Errorf("workshop costs for %s: %w", analysisID, valuation.ErrNotFound)
		}
		return json.Unmarshal(data, &costs)
	})
	if err != nil {
		return nil, err
	}
	return costs, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
