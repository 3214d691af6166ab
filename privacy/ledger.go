package privacy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// KeyImageLedger is the single source of truth for "is this key image
// spent on the canonical chain". It is a thin state machine over bbolt:
// key = 33-byte key image, value = txHash(32) || blockHeight(8, LE).
//
// MarkSpent is an unconditional upsert: exclusivity is the calling
// validator's responsibility via an IsSpent check performed under its own
// serialization. Concurrent unsynchronized MarkSpent calls on the same key
// image are a caller bug, not something the ledger arbitrates.

var (
	bucketKeyImages = []byte("key_images")

	// ErrLedgerClosed is returned after Close.
	ErrLedgerClosed = errors.New("key image ledger is closed")
)

// KeyImageEntry is the persisted spend record.
type KeyImageEntry struct {
	TxHash      [32]byte
	BlockHeight uint64
}

// KeyImageSpend pairs a key image with its spend record for batch writes.
type KeyImageSpend struct {
	KeyImage KeyImage
	Entry    KeyImageEntry
}

// KeyImageLedger is safe for concurrent use; bbolt serializes writers and
// lets readers proceed against a consistent snapshot.
type KeyImageLedger struct {
	db *bolt.DB
}

// OpenKeyImageLedger opens (or creates) the ledger at path.
func OpenKeyImageLedger(path string) (*KeyImageLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open key image db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(bucketKeyImages)
		return berr
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create key image bucket: %w", err)
	}

	return &KeyImageLedger{db: db}, nil
}

// Close releases the underlying database. Further calls fail with
// ErrLedgerClosed.
func (l *KeyImageLedger) Close() error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func encodeEntry(e *KeyImageEntry) []byte {
	buf := make([]byte, 40)
	copy(buf[:32], e.TxHash[:])
	binary.LittleEndian.PutUint64(buf[32:], e.BlockHeight)
	return buf
}

func decodeEntry(raw []byte) (KeyImageEntry, error) {
	var e KeyImageEntry
	if len(raw) != 40 {
		return e, fmt.Errorf("corrupt key image entry: %d bytes", len(raw))
	}
	copy(e.TxHash[:], raw[:32])
	e.BlockHeight = binary.LittleEndian.Uint64(raw[32:])
	return e, nil
}

// IsSpent reports whether the key image has a live entry.
func (l *KeyImageLedger) IsSpent(ki KeyImage) (bool, error) {
	if l.db == nil {
		return false, ErrLedgerClosed
	}
	var spent bool
	err := l.db.View(func(tx *bolt.Tx) error {
		spent = tx.Bucket(bucketKeyImages).Get(ki[:]) != nil
		return nil
	})
	return spent, err
}

// GetEntry returns the spend record for a key image.
func (l *KeyImageLedger) GetEntry(ki KeyImage) (KeyImageEntry, bool, error) {
	if l.db == nil {
		return KeyImageEntry{}, false, ErrLedgerClosed
	}
	var entry KeyImageEntry
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketKeyImages).Get(ki[:])
		if raw == nil {
			return nil
		}
		var derr error
		entry, derr = decodeEntry(raw)
		found = derr == nil
		return derr
	})
	return entry, found, err
}

// MarkSpent upserts the spend record for a key image.
func (l *KeyImageLedger) MarkSpent(ki KeyImage, txHash [32]byte, height uint64) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	entry := KeyImageEntry{TxHash: txHash, BlockHeight: height}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).Put(ki[:], encodeEntry(&entry))
	})
}

// UnmarkSpent removes the spend record; removing an absent key is a no-op.
func (l *KeyImageLedger) UnmarkSpent(ki KeyImage) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).Delete(ki[:])
	})
}

// WriteKeyImages applies a block's worth of spends in one atomic batch:
// either every entry is durable or none is, even across a crash mid-batch.
func (l *KeyImageLedger) WriteKeyImages(spends []KeyImageSpend) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	if len(spends) == 0 {
		return nil
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketKeyImages)
		for i := range spends {
			// A non-point key image inside the transaction aborts
			// the whole batch; bbolt rolls back every prior put.
			if !spends[i].KeyImage.Valid() {
				return fmt.Errorf("refusing key image %d: not a curve point", i)
			}
			if err := bucket.Put(spends[i].KeyImage[:], encodeEntry(&spends[i].Entry)); err != nil {
				return fmt.Errorf("failed to write key image %d: %w", i, err)
			}
		}
		return nil
	})
}

// EraseKeyImages removes a block's worth of spends atomically, restoring
// the pre-connect state during disconnect.
func (l *KeyImageLedger) EraseKeyImages(keyImages []KeyImage) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	if len(keyImages) == 0 {
		return nil
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketKeyImages)
		for i := range keyImages {
			if err := bucket.Delete(keyImages[i][:]); err != nil {
				return fmt.Errorf("failed to erase key image %d: %w", i, err)
			}
		}
		return nil
	})
}

// Sync forces durability before the caller proceeds to the next block.
func (l *KeyImageLedger) Sync() error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	return l.db.Sync()
}

// Count returns the number of live entries, for operator tooling.
func (l *KeyImageLedger) Count() (int, error) {
	if l.db == nil {
		return 0, ErrLedgerClosed
	}
	var count int
	err := l.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketKeyImages).Stats().KeyN
		return nil
	})
	return count, err
}

// ForEach iterates live entries in key order, for operator tooling.
func (l *KeyImageLedger) ForEach(fn func(ki KeyImage, entry KeyImageEntry) error) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).ForEach(func(k, v []byte) error {
			if len(k) != 33 {
				return fmt.Errorf("corrupt key image key: %d bytes", len(k))
			}
			var ki KeyImage
			copy(ki[:], k)
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			return fn(ki, entry)
		})
	})
}
