// Package runstore persists training runs in SQLite: per-epoch metrics and
// named network checkpoints.
package runstore

import (
	"bytes"
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"densenet/neuralnet"
)

// ErrNotFound is returned when a checkpoint name has no stored network.
var ErrNotFound = errors.New("runstore: not found")

// Store is a SQLite database holding epochs and checkpoints.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS epochs(
			run TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			ts REAL NOT NULL,
			train_cost REAL NOT NULL,
			validation_cost REAL NOT NULL,
			train_accuracy REAL NOT NULL,
			validation_accuracy REAL NOT NULL,
			PRIMARY KEY (run, epoch)
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating epochs table")
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints(
			name TEXT PRIMARY KEY,
			ts REAL NOT NULL,
			steps INTEGER NOT NULL,
			network BLOB NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating checkpoints table")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunSink records epochs for one run. It implements neuralnet.MetricsSink.
type RunSink struct {
	store *Store
	run   string
}

// Sink returns a metrics sink writing under run. Re-recording an epoch
// replaces the earlier row.
func (s *Store) Sink(run string) *RunSink {
	return &RunSink{store: s, run: run}
}

func (r *RunSink) RecordEpoch(m neuralnet.EpochMetrics) error {
	_, err := r.store.db.Exec(`
		INSERT INTO epochs(run, epoch, ts, train_cost, validation_cost, train_accuracy, validation_accuracy)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(run, epoch) DO UPDATE SET
			ts = excluded.ts,
			train_cost = excluded.train_cost,
			validation_cost = excluded.validation_cost,
			train_accuracy = excluded.train_accuracy,
			validation_accuracy = excluded.validation_accuracy`,
		r.run, m.Epoch, now(), m.TrainCost, m.ValidationCost, m.TrainAccuracy, m.ValidationAccuracy)
	return errors.Wrapf(err, "recording epoch %d of run %q", m.Epoch, r.run)
}

// History returns the recorded epochs of run in epoch order.
func (s *Store) History(ctx context.Context, run string) ([]neuralnet.EpochMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, train_cost, validation_cost, train_accuracy, validation_accuracy
		FROM epochs WHERE run = ? ORDER BY epoch ASC`, run)
	if err != nil {
		return nil, errors.Wrapf(err, "querying run %q", run)
	}
	defer rows.Close()

	var history []neuralnet.EpochMetrics
	for rows.Next() {
		var m neuralnet.EpochMetrics
		if err := rows.Scan(&m.Epoch, &m.TrainCost, &m.ValidationCost, &m.TrainAccuracy, &m.ValidationAccuracy); err != nil {
			return nil, errors.Wrapf(err, "scanning run %q", run)
		}
		history = append(history, m)
	}
	return history, errors.Wrapf(rows.Err(), "reading run %q", run)
}

// Runs lists the runs that have recorded at least one epoch.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT run FROM epochs ORDER BY run")
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, errors.Wrap(err, "scanning run name")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "listing runs")
}

// SaveCheckpoint stores nn under name, replacing any earlier checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, nn *neuralnet.NeuralNetwork) error {
	var buf bytes.Buffer
	if err := neuralnet.Save(&buf, nn); err != nil {
		return errors.Wrapf(err, "encoding checkpoint %q", name)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO checkpoints(name, ts, steps, network) VALUES(?,?,?,?)",
		name, now(), nn.Steps(), buf.Bytes())
	return errors.Wrapf(err, "saving checkpoint %q", name)
}

// LoadCheckpoint restores the network stored under name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string, opts ...neuralnet.Option) (*neuralnet.NeuralNetwork, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT network FROM checkpoints WHERE name = ?", name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "checkpoint %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading checkpoint %q", name)
	}
	nn, err := neuralnet.Load(bytes.NewReader(blob), opts...)
	return nn, errors.Wrapf(err, "decoding checkpoint %q", name)
}

func now() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
