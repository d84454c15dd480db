package store

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"attencal/internal/table"
)

const (
	sqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS calibration (
		chain          INTEGER NOT NULL,
		bandwidth_mhz  INTEGER NOT NULL,
		run_id         VARCHAR(64) NOT NULL,
		temperature    INTEGER NOT NULL,
		step_mhz       DOUBLE NOT NULL,
		res_bb         INTEGER NOT NULL,
		res_tx         INTEGER NOT NULL,
		res_fb         INTEGER NOT NULL,
		PRIMARY KEY (chain, bandwidth_mhz)
	);`
	sqlCreatePointTableTmpl = `CREATE TABLE IF NOT EXISTS calibration_point (
		chain          INTEGER NOT NULL,
		bandwidth_mhz  INTEGER NOT NULL,
		idx            INTEGER NOT NULL,
		freq_mhz       DOUBLE NOT NULL,
		bb             INTEGER NOT NULL,
		tx             INTEGER NOT NULL,
		fb             INTEGER NOT NULL,
		PRIMARY KEY (chain, bandwidth_mhz, idx)
	);`

	sqlDeleteTmpl      = `DELETE FROM calibration WHERE chain = ? AND bandwidth_mhz = ?;`
	sqlDeletePointTmpl = `DELETE FROM calibration_point WHERE chain = ? AND bandwidth_mhz = ?;`
	sqlInsertTmpl      = `INSERT INTO calibration (
		chain,
		bandwidth_mhz,
		run_id,
		temperature,
		step_mhz,
		res_bb,
		res_tx,
		res_fb
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`
	sqlInsertPointTmpl = `INSERT INTO calibration_point (
		chain,
		bandwidth_mhz,
		idx,
		freq_mhz,
		bb,
		tx,
		fb
	) VALUES (?, ?, ?, ?, ?, ?, ?);`

	sqlSelectTmpl = `SELECT run_id, temperature, step_mhz, res_bb, res_tx, res_fb
		FROM calibration WHERE chain = ? AND bandwidth_mhz = ?;`
	sqlSelectPointsTmpl = `SELECT freq_mhz, bb, tx, fb
		FROM calibration_point WHERE chain = ? AND bandwidth_mhz = ? ORDER BY idx;`
	sqlSelectKeysTmpl = `SELECT chain, bandwidth_mhz FROM calibration;`
)

// SQLStore keeps calibration tables in a SQL database. The same schema works
// on sqlite3 and mysql.
type SQLStore struct {
	DB *sql.DB
}

// OpenSQL opens a database through driver and creates the tables if needed.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if driver == "mysql" {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, errors.Wrap(err, "invalid mysql DSN")
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s DB", driver)
	}

	s := &SQLStore{DB: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateTableTmpl, sqlCreatePointTableTmpl} {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "unable to create table")
		}
	}
	return nil
}

// Write replaces the table of e.Key inside one transaction.
func (s *SQLStore) Write(ctx context.Context, e Entry) (err error) {
	if err := checkEntry(e); err != nil {
		return err
	}
	d := e.Table

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, stmt := range []string{sqlDeletePointTmpl, sqlDeleteTmpl} {
		if _, err = tx.ExecContext(ctx, stmt, e.Key.Chain, e.Key.BandwidthMHz); err != nil {
			return errors.Wrapf(err, "unable to delete %s", e.Key)
		}
	}

	if _, err = tx.ExecContext(ctx, sqlInsertTmpl,
		e.Key.Chain, e.Key.BandwidthMHz, e.RunID, d.Temperature, d.StepMHz,
		d.Resolutions.BB, d.Resolutions.TX, d.Resolutions.FB); err != nil {
		return errors.Wrapf(err, "unable to insert %s", e.Key)
	}

	stmt, err := tx.PrepareContext(ctx, sqlInsertPointTmpl)
	if err != nil {
		return errors.Wrap(err, "unable to prepare insert")
	}
	defer stmt.Close()

	for i, f := range d.Freqs {
		if _, err = stmt.ExecContext(ctx, e.Key.Chain, e.Key.BandwidthMHz, i, f, d.BB[i], d.TX[i], d.FB[i]); err != nil {
			return errors.Wrapf(err, "unable to insert %s point %d", e.Key, i)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "unable to commit")
	}
	return nil
}

// Read loads the table of k.
func (s *SQLStore) Read(ctx context.Context, k Key) (*Entry, error) {
	e := &Entry{Key: k, Table: &table.Dense{}}
	d := e.Table

	row := s.DB.QueryRowContext(ctx, sqlSelectTmpl, k.Chain, k.BandwidthMHz)
	err := row.Scan(&e.RunID, &d.Temperature, &d.StepMHz, &d.Resolutions.BB, &d.Resolutions.TX, &d.Resolutions.FB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", k)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", k)
	}

	rows, err := s.DB.QueryContext(ctx, sqlSelectPointsTmpl, k.Chain, k.BandwidthMHz)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s points", k)
	}
	defer rows.Close()

	for rows.Next() {
		var f float64
		var bb, tx, fb int64
		if err := rows.Scan(&f, &bb, &tx, &fb); err != nil {
			return nil, errors.Wrapf(err, "unable to scan %s point", k)
		}
		d.Freqs = append(d.Freqs, f)
		d.BB = append(d.BB, bb)
		d.TX = append(d.TX, tx)
		d.FB = append(d.FB, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "unable to read %s points", k)
	}
	return e, nil
}

// Keys lists every stored key.
func (s *SQLStore) Keys(ctx context.Context) ([]Key, error) {
	rows, err := s.DB.QueryContext(ctx, sqlSelectKeysTmpl)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list keys")
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.Chain, &k.BandwidthMHz); err != nil {
			return nil, errors.Wrap(err, "unable to scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to list keys")
	}
	sortKeys(keys)
	return keys, nil
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}
