// Package sqlite implements mint/storage.MintDB on top of a local sqlite3
// file, with forward-only schema migrations applied at startup.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
	"github.com/oceanslim/nutmint/crypto"
	"github.com/oceanslim/nutmint/mint/storage"
)

// proofY hex-encodes hash_to_curve(secret), the column every proof table
// uniquely indexes on to reject duplicate spends.
func proofY(secret string) (string, error) {
	Y, err := crypto.HashToCurve([]byte(secret))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", Y.SerializeCompressed()), nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteDB is a sqlite3-backed storage.MintDB. All writes take the
// package-level busy-retry discipline: sqlite serializes writers at the file
// level, so a SQLITE_BUSY is retried a bounded number of times rather than
// surfaced to the caller.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if absent) the sqlite file at path and applies
// any pending migrations.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// withRetry runs fn up to 5 times in all while it fails with "database is
// locked" (SQLITE_BUSY), with a short backoff. sqlite serializes all writers through the same file lock, so a
// busy error under concurrent mint/melt/swap calls is expected, not fatal.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}

func (s *SQLiteDB) GetSeed() ([]byte, error) {
	var seed []byte
	err := s.db.QueryRow(`SELECT seed FROM seed LIMIT 1`).Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return seed, err
}

func (s *SQLiteDB) SaveSeed(seed []byte) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO seed (seed) VALUES (?)`, seed)
		return err
	})
}

func (s *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO keysets (id, unit, active, seed, derivation_path_idx, input_fee_ppk, valid_from, first_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET active = excluded.active`,
			keyset.Id, keyset.Unit, keyset.Active, keyset.Seed, keyset.DerivationPathIdx,
			keyset.InputFeePpk, keyset.ValidFrom, keyset.FirstSeen)
		return err
	})
}

func (s *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	rows, err := s.db.Query(`SELECT id, unit, active, seed, derivation_path_idx, input_fee_ppk, valid_from, first_seen FROM keysets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keysets []storage.DBKeyset
	for rows.Next() {
		var k storage.DBKeyset
		if err := rows.Scan(&k.Id, &k.Unit, &k.Active, &k.Seed, &k.DerivationPathIdx, &k.InputFeePpk, &k.ValidFrom, &k.FirstSeen); err != nil {
			return nil, err
		}
		keysets = append(keysets, k)
	}
	return keysets, rows.Err()
}

func (s *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`UPDATE keysets SET active = ? WHERE id = ?`, active, id)
		return err
	})
}

func (s *SQLiteDB) SaveMintQuote(quote storage.MintQuote) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mint_quotes (id, amount, unit, payment_request, payment_hash, state, expiry, created_at, paid_at, pubkey)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			quote.Id, quote.Amount, quote.Unit, quote.PaymentRequest, quote.PaymentHash,
			quote.State, quote.Expiry, quote.CreatedAt, quote.PaidAt, quote.Pubkey)
		return err
	})
}

func (s *SQLiteDB) scanMintQuote(row *sql.Row) (storage.MintQuote, error) {
	var q storage.MintQuote
	var pubkey sql.NullString
	err := row.Scan(&q.Id, &q.Amount, &q.Unit, &q.PaymentRequest, &q.PaymentHash, &q.State, &q.Expiry, &q.CreatedAt, &q.PaidAt, &pubkey)
	if err != nil {
		return storage.MintQuote{}, err
	}
	q.Pubkey = pubkey.String
	return q, nil
}

func (s *SQLiteDB) GetMintQuote(id string) (storage.MintQuote, error) {
	row := s.db.QueryRow(`SELECT id, amount, unit, payment_request, payment_hash, state, expiry, created_at, paid_at, pubkey FROM mint_quotes WHERE id = ?`, id)
	q, err := s.scanMintQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	}
	return q, err
}

func (s *SQLiteDB) GetMintQuoteByPaymentHash(hash string) (storage.MintQuote, error) {
	row := s.db.QueryRow(`SELECT id, amount, unit, payment_request, payment_hash, state, expiry, created_at, paid_at, pubkey FROM mint_quotes WHERE payment_hash = ?`, hash)
	q, err := s.scanMintQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	}
	return q, err
}

func (s *SQLiteDB) UpdateMintQuoteState(id string, state nut04.State) error {
	return withRetry(func() error {
		if state == nut04.Paid {
			_, err := s.db.Exec(`UPDATE mint_quotes SET state = ?, paid_at = strftime('%s','now') WHERE id = ?`, state, id)
			return err
		}
		_, err := s.db.Exec(`UPDATE mint_quotes SET state = ? WHERE id = ?`, state, id)
		return err
	})
}

const meltQuoteColumns = `id, invoice_request, payment_hash, unit, amount, fee_reserve, state, expiry, preimage, change, blank_outputs, created_at, is_mpp, amount_msat`

func (s *SQLiteDB) SaveMeltQuote(quote storage.MeltQuote) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO melt_quotes (id, invoice_request, payment_hash, unit, amount, fee_reserve, state, expiry, preimage, created_at, is_mpp, amount_msat)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			quote.Id, quote.InvoiceRequest, quote.PaymentHash, quote.Unit, quote.Amount,
			quote.FeeReserve, quote.State, quote.Expiry, quote.Preimage, quote.CreatedAt,
			quote.IsMpp, quote.AmountMsat)
		return err
	})
}

func scanMeltQuoteRow(scan func(...any) error) (storage.MeltQuote, error) {
	var q storage.MeltQuote
	var change, blankOutputs sql.NullString
	err := scan(&q.Id, &q.InvoiceRequest, &q.PaymentHash, &q.Unit, &q.Amount, &q.FeeReserve,
		&q.State, &q.Expiry, &q.Preimage, &change, &blankOutputs, &q.CreatedAt, &q.IsMpp, &q.AmountMsat)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	if change.String != "" {
		if err := json.Unmarshal([]byte(change.String), &q.Change); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("decoding stored melt quote change: %v", err)
		}
	}
	if blankOutputs.String != "" {
		if err := json.Unmarshal([]byte(blankOutputs.String), &q.BlankOutputs); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("decoding stored melt quote blank outputs: %v", err)
		}
	}
	return q, nil
}

func (s *SQLiteDB) scanMeltQuote(row *sql.Row) (storage.MeltQuote, error) {
	return scanMeltQuoteRow(row.Scan)
}

func (s *SQLiteDB) GetMeltQuote(id string) (storage.MeltQuote, error) {
	row := s.db.QueryRow(`SELECT `+meltQuoteColumns+` FROM melt_quotes WHERE id = ?`, id)
	q, err := s.scanMeltQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}
	return q, err
}

func (s *SQLiteDB) GetMeltQuoteByPaymentRequest(invoice string) (*storage.MeltQuote, error) {
	row := s.db.QueryRow(`SELECT `+meltQuoteColumns+` FROM melt_quotes WHERE invoice_request = ?`, invoice)
	q, err := s.scanMeltQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *SQLiteDB) UpdateMeltQuote(id, preimage string, state nut05.State) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`UPDATE melt_quotes SET preimage = ?, state = ? WHERE id = ?`, preimage, state, id)
		return err
	})
}

func (s *SQLiteDB) SetMeltQuoteBlankOutputs(id string, outputs cashu.BlindedMessages) error {
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	return withRetry(func() error {
		_, err := s.db.Exec(`UPDATE melt_quotes SET blank_outputs = ? WHERE id = ?`, string(encoded), id)
		return err
	})
}

func (s *SQLiteDB) SetMeltQuoteChange(id string, change cashu.BlindedSignatures) error {
	encoded, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return withRetry(func() error {
		_, err := s.db.Exec(`UPDATE melt_quotes SET change = ? WHERE id = ?`, string(encoded), id)
		return err
	})
}

func (s *SQLiteDB) ListPendingMeltQuotes() ([]storage.MeltQuote, error) {
	rows, err := s.db.Query(`SELECT `+meltQuoteColumns+` FROM melt_quotes WHERE state = ?`, nut05.Pending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []storage.MeltQuote
	for rows.Next() {
		q, err := scanMeltQuoteRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *SQLiteDB) SaveBlindSignature(B_ string, signature cashu.BlindedSignature) error {
	return withRetry(func() error {
		var e, sc string
		if signature.DLEQ != nil {
			e, sc = signature.DLEQ.E, signature.DLEQ.S
		}
		_, err := s.db.Exec(`INSERT INTO promises (amount, keyset_id, b_, c_, e, s) VALUES (?, ?, ?, ?, ?, ?)`,
			signature.Amount, signature.Id, B_, signature.C_, e, sc)
		return err
	})
}

func (s *SQLiteDB) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	var sig cashu.BlindedSignature
	var e, sc sql.NullString
	err := s.db.QueryRow(`SELECT amount, keyset_id, c_, e, s FROM promises WHERE b_ = ?`, B_).
		Scan(&sig.Amount, &sig.Id, &sig.C_, &e, &sc)
	if errors.Is(err, sql.ErrNoRows) {
		return cashu.BlindedSignature{}, nil
	}
	if err != nil {
		return cashu.BlindedSignature{}, err
	}
	if e.Valid && sc.Valid && e.String != "" {
		sig.DLEQ = &cashu.DLEQProof{E: e.String, S: sc.String}
	}
	return sig, nil
}

func (s *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	var sigs cashu.BlindedSignatures
	for _, B_ := range B_s {
		sig, err := s.GetBlindSignature(B_)
		if err != nil {
			return nil, err
		}
		if sig.C_ != "" {
			sigs = append(sigs, sig)
		}
	}
	return sigs, nil
}

func (s *SQLiteDB) SaveProofs(proofs cashu.Proofs) error {
	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, p := range proofs {
			Y, err := proofY(p.Secret)
			if err != nil {
				tx.Rollback()
				return err
			}
			if _, err := tx.Exec(`INSERT INTO proofs_used (amount, id, secret, y, c, witness) VALUES (?, ?, ?, ?, ?, ?)`,
				p.Amount, p.Id, p.Secret, Y, p.C, p.Witness); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteDB) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	return s.getProofsFrom("proofs_used", Ys)
}

func (s *SQLiteDB) GetPendingProofs(Ys []string) ([]storage.DBProof, error) {
	return s.getProofsFrom("proofs_pending", Ys)
}

func (s *SQLiteDB) getProofsFrom(table string, Ys []string) ([]storage.DBProof, error) {
	if len(Ys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(Ys)), ",")
	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT amount, id, secret, y, c, witness FROM %s WHERE y IN (%s)`, table, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proofs []storage.DBProof
	for rows.Next() {
		var p storage.DBProof
		if err := rows.Scan(&p.Amount, &p.Id, &p.Secret, &p.Y, &p.C, &p.Witness); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (s *SQLiteDB) GetPendingProofsByQuote(quoteId string) ([]storage.DBProof, error) {
	rows, err := s.db.Query(`SELECT amount, id, secret, y, c, witness, melt_quote_id FROM proofs_pending WHERE melt_quote_id = ?`, quoteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proofs []storage.DBProof
	for rows.Next() {
		var p storage.DBProof
		if err := rows.Scan(&p.Amount, &p.Id, &p.Secret, &p.Y, &p.C, &p.Witness, &p.MeltQuoteId); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (s *SQLiteDB) AddPendingProofs(proofs cashu.Proofs, meltQuoteId string) error {
	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, p := range proofs {
			Y, err := proofY(p.Secret)
			if err != nil {
				tx.Rollback()
				return err
			}
			if _, err := tx.Exec(`INSERT INTO proofs_pending (amount, id, secret, y, c, witness, melt_quote_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.Amount, p.Id, p.Secret, Y, p.C, p.Witness, meltQuoteId); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteDB) RemovePendingProofs(Ys []string) error {
	if len(Ys) == 0 {
		return nil
	}
	return withRetry(func() error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(Ys)), ",")
		args := make([]any, len(Ys))
		for i, y := range Ys {
			args[i] = y
		}
		_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM proofs_pending WHERE y IN (%s)`, placeholders), args...)
		return err
	})
}

func (s *SQLiteDB) GetBalance() (uint64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT
			(SELECT balance FROM balance_issued) - (SELECT balance FROM balance_redeemed)
	`).Scan(&balance)
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, nil
	}
	return uint64(balance), nil
}

func (s *SQLiteDB) GetIssuedEcash() (map[string]uint64, error) {
	return s.sumByKeyset("promises")
}

func (s *SQLiteDB) GetRedeemedEcash() (map[string]uint64, error) {
	return s.sumByKeyset("proofs_used")
}

func (s *SQLiteDB) sumByKeyset(table string) (map[string]uint64, error) {
	idCol := "keyset_id"
	if table == "proofs_used" {
		idCol = "id"
	}
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s, COALESCE(SUM(amount), 0) FROM %s GROUP BY %s`, idCol, table, idCol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]uint64)
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		sums[id] = uint64(amount)
	}
	return sums, rows.Err()
}
