// Package historydb is the append-only relational history store:
// transaction history plus per-address aggregate totals, backed by sqlite3
// through sqlx with the schema applied as plain SQL at startup.
package historydb

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

var log = logrus.WithField("component", "historydb")

const schema = `
CREATE TABLE IF NOT EXISTS transaction_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    tx_hash    TEXT NOT NULL,
    tx_block   INTEGER NOT NULL,
    address    TEXT NOT NULL,
    amount     INTEGER NOT NULL,
    operation  INTEGER NOT NULL,
    event      INTEGER NOT NULL,
    epoch      INTEGER NOT NULL,
    status     INTEGER NOT NULL DEFAULT 0,
    timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_address ON transaction_history(address);
CREATE INDEX IF NOT EXISTS idx_history_operation ON transaction_history(operation);
CREATE INDEX IF NOT EXISTS idx_history_event ON transaction_history(event);
CREATE INDEX IF NOT EXISTS idx_history_timestamp ON transaction_history(timestamp);
CREATE UNIQUE INDEX IF NOT EXISTS idx_history_idem
    ON transaction_history(tx_hash, address, operation);

CREATE TABLE IF NOT EXISTS total_amount (
    address              TEXT PRIMARY KEY,
    stake_amount         INTEGER NOT NULL DEFAULT 0,
    delegate_amount      INTEGER NOT NULL DEFAULT 0,
    withdrawable_amount  INTEGER NOT NULL DEFAULT 0,
    reward_lock_amount   INTEGER NOT NULL DEFAULT 0,
    reward_unlock_amount INTEGER NOT NULL DEFAULT 0
);
`

// Store is the append-only history + total-amount relational store.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("historydb: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historydb: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type historyRow struct {
	ID        int64  `db:"id"`
	TxHash    string `db:"tx_hash"`
	TxBlock   uint64 `db:"tx_block"`
	Address   string `db:"address"`
	Amount    int64  `db:"amount"`
	Operation int    `db:"operation"`
	Event     int    `db:"event"`
	Epoch     uint64 `db:"epoch"`
	Status    int    `db:"status"`
	Timestamp int64  `db:"timestamp"`
}

func (r historyRow) toRecord() (types.HistoryRecord, error) {
	addr, err := types.ParseAddress(r.Address)
	if err != nil {
		return types.HistoryRecord{}, err
	}
	return types.HistoryRecord{
		ID:        r.ID,
		TxHash:    r.TxHash,
		TxBlock:   r.TxBlock,
		Address:   addr,
		Amount:    r.Amount,
		Operation: types.Operation(r.Operation),
		Event:     types.Event(r.Event),
		Epoch:     r.Epoch,
		Status:    types.HistoryStatus(r.Status),
		Timestamp: r.Timestamp,
	}, nil
}

func rowsToRecords(rows []historyRow) ([]types.HistoryRecord, error) {
	out := make([]types.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("historydb: decode row %d: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// InsertHistory appends a history row and atomically upserts the matching
// total-amount row. It is idempotent on (tx_hash, address, operation): a
// duplicate insert is a silent no-op and the total is not double-counted,
// so a replayed block cannot corrupt the aggregates.
func (s *Store) InsertHistory(rec types.HistoryRecord) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("historydb: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO transaction_history
		 (tx_hash, tx_block, address, amount, operation, event, epoch, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TxHash, rec.TxBlock, rec.Address.String(), rec.Amount,
		int(rec.Operation), int(rec.Event), rec.Epoch, int(rec.Status), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("historydb: insert history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("historydb: rows affected: %w", err)
	}
	if n == 0 {
		log.WithFields(logrus.Fields{"tx_hash": rec.TxHash, "address": rec.Address}).
			Debug("duplicate history record ignored")
		return tx.Commit()
	}

	if err := upsertTotal(tx, rec.Address, rec.Operation, rec.Event, rec.Amount); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertTotal creates the total-amount row on first sight of an address
// and accumulates the signed delta into the field matching operation
// otherwise. Reward accrual lands in the locked column; a reward
// withdrawal moves the amount from locked to unlocked.
func upsertTotal(tx *sqlx.Tx, addr types.Address, op types.Operation, event types.Event, signedAmount int64) error {
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO total_amount (address) VALUES (?)`, addr.String(),
	); err != nil {
		return fmt.Errorf("historydb: ensure total row: %w", err)
	}

	var column string
	switch op {
	case types.OpStake:
		column = "stake_amount"
	case types.OpDelegate:
		column = "delegate_amount"
	case types.OpReward:
		if event == types.EventWithdraw {
			if _, err := tx.Exec(
				`UPDATE total_amount
				 SET reward_lock_amount = reward_lock_amount - ?,
				     reward_unlock_amount = reward_unlock_amount + ?
				 WHERE address = ?`,
				signedAmount, signedAmount, addr.String(),
			); err != nil {
				return fmt.Errorf("historydb: update reward totals: %w", err)
			}
			return nil
		}
		column = "reward_lock_amount"
	default:
		return fmt.Errorf("historydb: unknown operation %d", op)
	}

	q := fmt.Sprintf(`UPDATE total_amount SET %s = %s + ? WHERE address = ?`, column, column)
	if _, err := tx.Exec(q, signedAmount, addr.String()); err != nil {
		return fmt.Errorf("historydb: update total: %w", err)
	}
	return nil
}

// MaxTxBlock returns the highest tx_block recorded, or (0, false) if history
// is empty. Used by the chain-tail puller to bootstrap current_number.
func (s *Store) MaxTxBlock() (uint64, bool, error) {
	var block sql.NullInt64
	if err := s.db.Get(&block, `SELECT MAX(tx_block) FROM transaction_history`); err != nil {
		return 0, false, fmt.Errorf("historydb: max tx_block: %w", err)
	}
	if !block.Valid {
		return 0, false, nil
	}
	return uint64(block.Int64), true, nil
}

// SumTotalStake returns the sum of stake_amount over every tracked address.
func (s *Store) SumTotalStake() (int64, error) {
	var sum sql.NullInt64
	if err := s.db.Get(&sum, `SELECT SUM(stake_amount) FROM total_amount`); err != nil {
		return 0, fmt.Errorf("historydb: sum total stake: %w", err)
	}
	return sum.Int64, nil
}

// Pagination is the cursor-based (offset, limit) window: ids in
// (offset, offset+limit].
type Pagination struct {
	Offset int64
	Limit  int64
}

// HistoryByAddress returns, in insertion order, history rows for address and
// operation, optionally filtered further by event.
func (s *Store) HistoryByAddress(addr types.Address, op types.Operation, event *types.Event, p Pagination) ([]types.HistoryRecord, error) {
	var rows []historyRow
	if event != nil {
		err := s.db.Select(&rows,
			`SELECT * FROM transaction_history
			 WHERE address = ? AND operation = ? AND event = ? AND id > ? AND id <= ?
			 ORDER BY id ASC`,
			addr.String(), int(op), int(*event), p.Offset, p.Offset+p.Limit)
		if err != nil {
			return nil, fmt.Errorf("historydb: history by address: %w", err)
		}
	} else {
		err := s.db.Select(&rows,
			`SELECT * FROM transaction_history
			 WHERE address = ? AND operation = ? AND id > ? AND id <= ?
			 ORDER BY id ASC`,
			addr.String(), int(op), p.Offset, p.Offset+p.Limit)
		if err != nil {
			return nil, fmt.Errorf("historydb: history by address: %w", err)
		}
	}
	return rowsToRecords(rows)
}

// RewardHistory returns reward-operation rows for addr, served over the
// shared transaction_history schema.
func (s *Store) RewardHistory(addr types.Address, p Pagination) ([]types.HistoryRecord, error) {
	var rows []historyRow
	err := s.db.Select(&rows,
		`SELECT * FROM transaction_history
		 WHERE address = ? AND operation = ? AND id > ? AND id <= ?
		 ORDER BY id ASC`,
		addr.String(), int(types.OpReward), p.Offset, p.Offset+p.Limit)
	if err != nil {
		return nil, fmt.Errorf("historydb: reward history: %w", err)
	}
	return rowsToRecords(rows)
}

// SumByOperationEpoch returns the sum of amount for all rows matching
// operation at epoch.
func (s *Store) SumByOperationEpoch(op types.Operation, epoch uint64) (int64, error) {
	var sum sql.NullInt64
	err := s.db.Get(&sum,
		`SELECT SUM(amount) FROM transaction_history WHERE operation = ? AND epoch = ?`,
		int(op), epoch)
	if err != nil {
		return 0, fmt.Errorf("historydb: sum by operation/epoch: %w", err)
	}
	return sum.Int64, nil
}

// SumByOperationEpochRange aggregates SumByOperationEpoch once per epoch
// in [start, end].
func (s *Store) SumByOperationEpochRange(op types.Operation, start, end uint64) (map[uint64]int64, error) {
	out := make(map[uint64]int64, end-start+1)
	for e := start; e <= end; e++ {
		sum, err := s.SumByOperationEpoch(op, e)
		if err != nil {
			return nil, err
		}
		out[e] = sum
	}
	return out, nil
}

// TopByStake returns the top-N addresses by stake_amount, descending.
func (s *Store) TopByStake(limit int) ([]types.TotalAmount, error) {
	type row struct {
		Address      string `db:"address"`
		Stake        int64  `db:"stake_amount"`
		Delegate     int64  `db:"delegate_amount"`
		Withdrawable int64  `db:"withdrawable_amount"`
		RewardLock   int64  `db:"reward_lock_amount"`
		RewardUnlock int64  `db:"reward_unlock_amount"`
	}
	var rows []row
	err := s.db.Select(&rows,
		`SELECT address, stake_amount, delegate_amount, withdrawable_amount,
		        reward_lock_amount, reward_unlock_amount
		 FROM total_amount ORDER BY stake_amount DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("historydb: top by stake: %w", err)
	}
	out := make([]types.TotalAmount, 0, len(rows))
	for _, r := range rows {
		addr, err := types.ParseAddress(r.Address)
		if err != nil {
			return nil, fmt.Errorf("historydb: top by stake: %w", err)
		}
		out = append(out, types.TotalAmount{
			Address: addr, Stake: r.Stake, Delegate: r.Delegate,
			Withdrawable: r.Withdrawable, RewardLock: r.RewardLock, RewardUnlock: r.RewardUnlock,
		})
	}
	return out, nil
}

// LatestStakeTransactions returns the newest stake-operation rows, paginated
// by reverse timestamp.
func (s *Store) LatestStakeTransactions(p Pagination) ([]types.HistoryRecord, error) {
	var rows []historyRow
	err := s.db.Select(&rows,
		`SELECT * FROM transaction_history WHERE operation = ?
		 ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		int(types.OpStake), p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("historydb: latest stake transactions: %w", err)
	}
	return rowsToRecords(rows)
}

// GetTotalAmount returns the aggregate row for addr, or the zero value if
// the address has never been observed.
func (s *Store) GetTotalAmount(addr types.Address) (types.TotalAmount, error) {
	type row struct {
		Stake        int64 `db:"stake_amount"`
		Delegate     int64 `db:"delegate_amount"`
		Withdrawable int64 `db:"withdrawable_amount"`
		RewardLock   int64 `db:"reward_lock_amount"`
		RewardUnlock int64 `db:"reward_unlock_amount"`
	}
	var r row
	err := s.db.Get(&r,
		`SELECT stake_amount, delegate_amount, withdrawable_amount,
		        reward_lock_amount, reward_unlock_amount
		 FROM total_amount WHERE address = ?`, addr.String())
	if err == sql.ErrNoRows {
		return types.TotalAmount{Address: addr}, nil
	}
	if err != nil {
		return types.TotalAmount{}, fmt.Errorf("historydb: get total amount: %w", err)
	}
	return types.TotalAmount{
		Address: addr, Stake: r.Stake, Delegate: r.Delegate,
		Withdrawable: r.Withdrawable, RewardLock: r.RewardLock, RewardUnlock: r.RewardUnlock,
	}, nil
}
