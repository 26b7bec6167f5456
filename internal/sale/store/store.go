package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanSale reads a sale row without its documents and history.
// Expected column order: id, unit_id, client_id, commercial_id, agency_id, notary_id, sale_price, status,
// signed_commercial, signed_client, signed_agency, funds_transferred, version, created_at, updated_at
func scanSale(s scanner) (*sale.Sale, error) {
	var sl sale.Sale

	var statusStr string

	if err := s.Scan(
		&sl.ID, &sl.UnitID, &sl.ClientID, &sl.CommercialID, &sl.AgencyID, &sl.NotaryID, &sl.SalePrice, &statusStr,
		&sl.Signatures.Commercial, &sl.Signatures.Client, &sl.Signatures.Agency,
		&sl.FundsTransferred, &sl.Version, &sl.CreatedAt, &sl.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sl.Status = sale.Status(statusStr)

	return &sl, nil
}

const selectSaleColumns = `
	id, unit_id, client_id, commercial_id, agency_id, notary_id, sale_price, status,
	signed_commercial, signed_client, signed_agency, funds_transferred, version, created_at, updated_at
`

func (s *Store) CreateSale(ctx context.Context, sl *sale.Sale) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback()

	query := `
		INSERT INTO sales (id, unit_id, client_id, commercial_id, agency_id, notary_id, sale_price, status,
			signed_commercial, signed_client, signed_agency, funds_transferred, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = dbTx.ExecContext(ctx, query,
		sl.ID, sl.UnitID, sl.ClientID, sl.CommercialID, sl.AgencyID, sl.NotaryID, sl.SalePrice, sl.Status,
		sl.Signatures.Commercial, sl.Signatures.Client, sl.Signatures.Agency,
		sl.FundsTransferred, sl.Version, sl.CreatedAt, sl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating sale: %w", err)
	}

	for _, doc := range sl.Documents {
		if err := addDocument(ctx, dbTx, sl.ID, doc); err != nil {
			return err
		}
	}

	for _, entry := range sl.History {
		if err := appendHistory(ctx, dbTx, sl.ID, entry); err != nil {
			return err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *Store) GetSale(ctx context.Context, id uuid.UUID) (*sale.Sale, error) {
	return getSale(ctx, s.db, id)
}

func (s *Store) ListSales(ctx context.Context, filter sale.ListFilter) ([]*sale.Sale, error) {
	query := `SELECT ` + selectSaleColumns + ` FROM sales WHERE TRUE`

	var args []any

	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)

		args = append(args, *filter.Status)
		argIdx++
	}

	if filter.AgencyID != nil {
		query += fmt.Sprintf(" AND agency_id = $%d", argIdx)

		args = append(args, *filter.AgencyID)
		argIdx++
	}

	if filter.ClientID != nil {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)

		args = append(args, *filter.ClientID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	defer rows.Close()

	var sales []*sale.Sale

	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sale: %w", err)
		}

		sales = append(sales, sl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sale rows: %w", err)
	}

	for _, sl := range sales {
		if err := loadDetails(ctx, s.db, sl); err != nil {
			return nil, err
		}
	}

	return sales, nil
}

// LockKey maps a sale id onto the advisory lock that serializes every write
// to the sale and its schedule.
func LockKey(saleID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte("sale"))
	h.Write([]byte{0})
	h.Write(saleID[:])

	return int64(h.Sum64())
}

func (s *Store) Begin(ctx context.Context, saleID uuid.UUID) (sale.Tx, error) {
	return s.BeginTx(ctx, saleID)
}

// BeginTx opens a database transaction holding the advisory lock of the sale
// until commit or rollback.
func (s *Store) BeginTx(ctx context.Context, saleID uuid.UUID) (*Tx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sale tx: %w", err)
	}

	if _, err := dbTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", LockKey(saleID)); err != nil {
		dbTx.Rollback()
		return nil, fmt.Errorf("acquiring sale lock: %w", err)
	}

	return &Tx{tx: dbTx}, nil
}

type Tx struct {
	tx *sql.Tx
}

// SQL exposes the underlying transaction to stores sharing the sale lock.
func (t *Tx) SQL() *sql.Tx { return t.tx }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) GetSale(ctx context.Context, id uuid.UUID) (*sale.Sale, error) {
	return getSale(ctx, t.tx, id)
}

// UpdateSale writes the sale row if it is still at the version preceding
// sl.Version.
func (t *Tx) UpdateSale(ctx context.Context, sl *sale.Sale) error {
	query := `
		UPDATE sales
		SET notary_id = $1, status = $2, signed_commercial = $3, signed_client = $4, signed_agency = $5,
			funds_transferred = $6, version = $7, updated_at = $8
		WHERE id = $9 AND version = $10
	`

	res, err := t.tx.ExecContext(ctx, query,
		sl.NotaryID, sl.Status, sl.Signatures.Commercial, sl.Signatures.Client, sl.Signatures.Agency,
		sl.FundsTransferred, sl.Version, sl.UpdatedAt,
		sl.ID, sl.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating sale: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating sale: %w", err)
	}

	if n == 0 {
		return apperr.New(apperr.CodeConflict, "sale %s changed concurrently", sl.ID)
	}

	return nil
}

func (t *Tx) AppendHistory(ctx context.Context, saleID uuid.UUID, entry sale.HistoryEntry) error {
	return appendHistory(ctx, t.tx, saleID, entry)
}

func (t *Tx) AddDocument(ctx context.Context, saleID uuid.UUID, doc sale.Document) error {
	return addDocument(ctx, t.tx, saleID, doc)
}

func getSale(ctx context.Context, q querier, id uuid.UUID) (*sale.Sale, error) {
	query := `SELECT ` + selectSaleColumns + ` FROM sales WHERE id = $1`

	sl, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, "sale %s not found", id)
		}

		return nil, fmt.Errorf("getting sale: %w", err)
	}

	if err := loadDetails(ctx, q, sl); err != nil {
		return nil, err
	}

	return sl, nil
}

func loadDetails(ctx context.Context, q querier, sl *sale.Sale) error {
	docs, err := q.QueryContext(ctx, `
		SELECT name, kind, storage_ref, uploaded_at
		FROM sale_documents WHERE sale_id = $1 ORDER BY id ASC`, sl.ID)
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}
	defer docs.Close()

	for docs.Next() {
		var (
			doc  sale.Document
			kind string
		)

		if err := docs.Scan(&doc.Name, &kind, &doc.StorageRef, &doc.UploadedAt); err != nil {
			return fmt.Errorf("scanning document: %w", err)
		}

		doc.Kind = sale.DocumentKind(kind)
		sl.Documents = append(sl.Documents, doc)
	}

	if err := docs.Err(); err != nil {
		return fmt.Errorf("iterating document rows: %w", err)
	}

	history, err := q.QueryContext(ctx, `
		SELECT occurred_at, actor_id, actor_role, action, description
		FROM sale_history WHERE sale_id = $1 ORDER BY id ASC`, sl.ID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	defer history.Close()

	for history.Next() {
		var (
			entry        sale.HistoryEntry
			role, action string
		)

		if err := history.Scan(&entry.At, &entry.ActorID, &role, &action, &entry.Description); err != nil {
			return fmt.Errorf("scanning history entry: %w", err)
		}

		entry.ActorRole = actor.Role(role)
		entry.Action = sale.Action(action)
		sl.History = append(sl.History, entry)
	}

	if err := history.Err(); err != nil {
		return fmt.Errorf("iterating history rows: %w", err)
	}

	return nil
}

func appendHistory(ctx context.Context, q querier, saleID uuid.UUID, entry sale.HistoryEntry) error {
	query := `
		INSERT INTO sale_history (sale_id, occurred_at, actor_id, actor_role, action, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := q.ExecContext(ctx, query,
		saleID, entry.At, entry.ActorID, entry.ActorRole, entry.Action, entry.Description,
	); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}

	return nil
}

func addDocument(ctx context.Context, q querier, saleID uuid.UUID, doc sale.Document) error {
	query := `
		INSERT INTO sale_documents (sale_id, name, kind, storage_ref, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := q.ExecContext(ctx, query, saleID, doc.Name, doc.Kind, doc.StorageRef, doc.UploadedAt); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}

	return nil
}
