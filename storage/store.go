package storage

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"

	"pawnpool/crypto"
	"pawnpool/native/loan"
)

var (
	bucketPool       = []byte("pool")
	bucketAccounts   = []byte("accounts")
	bucketCollateral = []byte("collateral")
	bucketCustodians = []byte("custodians")
	bucketWhitelist  = []byte("whitelist")
	bucketPending    = []byte("pending")

	poolKey = []byte("totals")

	// ErrClosed is returned when the store is used after Close.
	ErrClosed = errors.New("storage: store closed")
)

// keySeparator cannot collide with address payloads because keys place the
// fixed-length address first.
const keySeparator = 0x00

// Store persists the ledger state in a single BoltDB file. Records are RLP
// encoded; the loan engine drives all reads and writes, so the store performs
// no validation beyond codec round-trips.
type Store struct {
	db *bolt.DB
}

// NewStore opens (and migrates) the BoltDB-backed ledger store.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	buckets := [][]byte{bucketPool, bucketAccounts, bucketCollateral, bucketCustodians, bucketWhitelist, bucketPending}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

func collateralKey(id loan.CollateralID) []byte {
	key := append([]byte{}, id.Contract.Bytes()...)
	key = append(key, keySeparator)
	return append(key, id.TokenID...)
}

func custodianKey(addr crypto.Address, id loan.CollateralID) []byte {
	key := append([]byte{}, addr.Bytes()...)
	key = append(key, keySeparator)
	return append(key, collateralKey(id)...)
}

func custodianPrefix(addr crypto.Address) []byte {
	return append(append([]byte{}, addr.Bytes()...), keySeparator)
}

// GetPool loads the pool aggregates, or nil when none were persisted yet.
func (s *Store) GetPool() (*loan.Pool, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var pool *loan.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPool).Get(poolKey)
		if raw == nil {
			return nil
		}
		var rec poolRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		pool = rec.toPool()
		return nil
	})
	return pool, err
}

// PutPool persists the pool aggregates.
func (s *Store) PutPool(pool *loan.Pool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if pool == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toPoolRecord(pool))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPool).Put(poolKey, encoded)
	})
}

// GetAccount loads one principal's position, or nil when unknown.
func (s *Store) GetAccount(addr crypto.Address) (*loan.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var acc *loan.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get(addr.Bytes())
		if raw == nil {
			return nil
		}
		var rec accountRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		acc = rec.toAccount()
		return nil
	})
	return acc, err
}

// PutAccount persists one principal's position.
func (s *Store) PutAccount(acc *loan.Account) error {
	if err := s.ready(); err != nil {
		return err
	}
	if acc == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toAccountRecord(acc))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(acc.Address.Bytes(), encoded)
	})
}

// GetCollateral loads a collateral record, or nil when unknown.
func (s *Store) GetCollateral(id loan.CollateralID) (*loan.Collateral, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var col *loan.Collateral
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCollateral).Get(collateralKey(id))
		if raw == nil {
			return nil
		}
		var rec collateralRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		col = rec.toCollateral()
		return nil
	})
	return col, err
}

// PutCollateral persists a collateral record.
func (s *Store) PutCollateral(col *loan.Collateral) error {
	if err := s.ready(); err != nil {
		return err
	}
	if col == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toCollateralRecord(col))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollateral).Put(collateralKey(col.ID), encoded)
	})
}

// DeleteCollateral removes a collateral record.
func (s *Store) DeleteCollateral(id loan.CollateralID) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollateral).Delete(collateralKey(id))
	})
}

// ActiveLoanCount counts collateral records with a positive principal.
func (s *Store) ActiveLoanCount() (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollateral).ForEach(func(_, raw []byte) error {
			var rec collateralRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			if rec.Principal != nil && rec.Principal.Sign() > 0 {
				count++
			}
			return nil
		})
	})
	return count, err
}

// CustodianAdd records that the address placed the collateral into custody.
func (s *Store) CustodianAdd(addr crypto.Address, id loan.CollateralID) error {
	if err := s.ready(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&collateralRecord{
		Contract: encodeAddr(id.Contract),
		TokenID:  id.TokenID,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustodians).Put(custodianKey(addr, id), encoded)
	})
}

// CustodianRemove drops the custody index entry. Removing an absent entry is
// not an error.
func (s *Store) CustodianRemove(addr crypto.Address, id loan.CollateralID) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustodians).Delete(custodianKey(addr, id))
	})
}

// CustodianCollateral lists every collateral the address has in custody.
func (s *Store) CustodianCollateral(addr crypto.Address) ([]loan.CollateralID, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	prefix := custodianPrefix(addr)
	ids := make([]loan.CollateralID, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketCustodians).Cursor()
		for key, raw := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, raw = cursor.Next() {
			var rec collateralRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			ids = append(ids, loan.CollateralID{
				Contract: decodeAddr(rec.Contract),
				TokenID:  rec.TokenID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetWhitelist loads the whitelist entry for a contract, or nil when unknown.
func (s *Store) GetWhitelist(contract crypto.Address) (*loan.WhitelistEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var entry *loan.WhitelistEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketWhitelist).Get(contract.Bytes())
		if raw == nil {
			return nil
		}
		var rec whitelistRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		entry = rec.toWhitelistEntry()
		return nil
	})
	return entry, err
}

// PutWhitelist persists a whitelist entry.
func (s *Store) PutWhitelist(entry *loan.WhitelistEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toWhitelistRecord(entry))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWhitelist).Put(entry.Contract.Bytes(), encoded)
	})
}

// DeleteWhitelist removes the entry for a contract.
func (s *Store) DeleteWhitelist(contract crypto.Address) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWhitelist).Delete(contract.Bytes())
	})
}

// WhitelistEntries lists all whitelist entries in key order.
func (s *Store) WhitelistEntries() ([]*loan.WhitelistEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries := make([]*loan.WhitelistEntry, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWhitelist).ForEach(func(_, raw []byte) error {
			var rec whitelistRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			entries = append(entries, rec.toWhitelistEntry())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PendingPut persists an in-flight transfer keyed by receipt identifier.
func (s *Store) PendingPut(pending *loan.PendingTransfer) error {
	if err := s.ready(); err != nil {
		return err
	}
	if pending == nil || pending.ID == "" {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toPendingRecord(pending))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Put([]byte(pending.ID), encoded)
	})
}

// PendingGet loads an in-flight transfer, or nil when the receipt is unknown.
func (s *Store) PendingGet(id string) (*loan.PendingTransfer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var pending *loan.PendingTransfer
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPending).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var rec pendingRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		pending = rec.toPendingTransfer()
		return nil
	})
	return pending, err
}

// PendingDelete removes an in-flight transfer record.
func (s *Store) PendingDelete(id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete([]byte(id))
	})
}

// PendingList returns every unresolved transfer, oldest first by creation
// time. Used at startup to surface receipts that never resolved.
func (s *Store) PendingList() ([]*loan.PendingTransfer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	transfers := make([]*loan.PendingTransfer, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(_, raw []byte) error {
			var rec pendingRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			transfers = append(transfers, rec.toPendingTransfer())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt < transfers[j].CreatedAt
	})
	return transfers, nil
}
