// Package store implements crash-recovery persistence for live requests:
// one row per request, written on PREPARER insertion and deleted on
// FINISHER-driven removal (spec.md §4.6). Grounded on the original
// project's dmm/sql/session.py schema (the row's scalar fields, below) but
// against github.com/jmoiron/sqlx + github.com/lib/pq (adopted from the
// jordigilh-kubernaut example, since aistore's own pack carries no
// relational-database driver).
/*
 * Copyright (c) 2024, DMM contributors.
 */
package store

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS dmm_requests (
	request_id             TEXT PRIMARY KEY,
	rule_id                TEXT NOT NULL,
	src_site               TEXT NOT NULL,
	dst_site               TEXT NOT NULL,
	transfer_ids           TEXT NOT NULL,
	priority               BIGINT NOT NULL,
	n_bytes_total          BIGINT NOT NULL,
	n_bytes_transferred    BIGINT NOT NULL,
	n_transfers_total      BIGINT NOT NULL,
	n_transfers_submitted  BIGINT NOT NULL,
	n_transfers_finished   BIGINT NOT NULL,
	src_ipv6               TEXT NOT NULL,
	dst_ipv6               TEXT NOT NULL,
	bandwidth              BIGINT NOT NULL,
	sense_link_id          TEXT NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
)`

// Row mirrors the Request scalars named in spec.md §3, joining
// TransferIDs with "," as the original project's session layer does.
type Row struct {
	RequestID           string    `db:"request_id"`
	RuleID              string    `db:"rule_id"`
	SrcSite             string    `db:"src_site"`
	DstSite             string    `db:"dst_site"`
	TransferIDs         string    `db:"transfer_ids"`
	Priority            int64     `db:"priority"`
	NBytesTotal         int64     `db:"n_bytes_total"`
	NBytesTransferred   int64     `db:"n_bytes_transferred"`
	NTransfersTotal     int64     `db:"n_transfers_total"`
	NTransfersSubmitted int64     `db:"n_transfers_submitted"`
	NTransfersFinished  int64     `db:"n_transfers_finished"`
	SrcIPv6             string    `db:"src_ipv6"`
	DstIPv6             string    `db:"dst_ipv6"`
	Bandwidth           int64     `db:"bandwidth"`
	SenseLinkID         string    `db:"sense_link_id"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func JoinTransferIDs(ids []string) string   { return strings.Join(ids, ",") }
func SplitTransferIDs(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

// Store is the persistent relational store's client.
type Store struct {
	db *sqlx.DB
}

// Open connects to the configured Postgres host and ensures the table
// exists (startup-time convenience; correctness does not depend on
// durability between recompute cycles, per spec.md §4.6).
func Open(host string) (*Store, error) {
	dsn := "postgres://dmm:dmm@" + host + "/dmm?sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "store: connecting to sql_db")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "store: creating schema")
	}
	return &Store{db: db}, nil
}

// Upsert writes or replaces a request row (used on PREPARER insertion and
// whenever SUBMITTER/FINISHER mutate counters worth recovering).
func (s *Store) Upsert(row Row) error {
	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	_, err := s.db.NamedExec(`
		INSERT INTO dmm_requests (
			request_id, rule_id, src_site, dst_site, transfer_ids, priority,
			n_bytes_total, n_bytes_transferred, n_transfers_total,
			n_transfers_submitted, n_transfers_finished,
			src_ipv6, dst_ipv6, bandwidth, sense_link_id, created_at, updated_at
		) VALUES (
			:request_id, :rule_id, :src_site, :dst_site, :transfer_ids, :priority,
			:n_bytes_total, :n_bytes_transferred, :n_transfers_total,
			:n_transfers_submitted, :n_transfers_finished,
			:src_ipv6, :dst_ipv6, :bandwidth, :sense_link_id, :created_at, :updated_at
		)
		ON CONFLICT (request_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			n_bytes_total = EXCLUDED.n_bytes_total,
			n_bytes_transferred = EXCLUDED.n_bytes_transferred,
			n_transfers_total = EXCLUDED.n_transfers_total,
			n_transfers_submitted = EXCLUDED.n_transfers_submitted,
			n_transfers_finished = EXCLUDED.n_transfers_finished,
			src_ipv6 = EXCLUDED.src_ipv6,
			dst_ipv6 = EXCLUDED.dst_ipv6,
			bandwidth = EXCLUDED.bandwidth,
			sense_link_id = EXCLUDED.sense_link_id,
			updated_at = EXCLUDED.updated_at
	`, row)
	if err != nil {
		return errors.Wrapf(err, "store: upserting request %s", row.RequestID)
	}
	return nil
}

// Delete removes a request row on FINISHER-driven completion.
func (s *Store) Delete(requestID string) error {
	_, err := s.db.Exec(`DELETE FROM dmm_requests WHERE request_id = $1`, requestID)
	if err != nil {
		return errors.Wrapf(err, "store: deleting request %s", requestID)
	}
	return nil
}

// LoadAll rehydrates every row for crash recovery at startup.
func (s *Store) LoadAll() ([]Row, error) {
	var rows []Row
	if err := s.db.Select(&rows, `SELECT * FROM dmm_requests`); err != nil {
		return nil, errors.Wrap(err, "store: loading requests")
	}
	return rows, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
