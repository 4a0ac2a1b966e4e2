package db

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("store resource not found")

const snapshotEpochKey = "se"
const snapshotKey = "snapshot"

// PebbleStore keeps the latest dashboard snapshot on disk so that a restarted service has
// something to serve if the backing store is unavailable.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(storeDir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "dashboard-internal-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &PebbleStore{db: db}, nil
}

func (ps *PebbleStore) SaveSnapshot(epoch domain.Epoch, snapshot *domain.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	var epochValue []byte
	epochValue = binary.BigEndian.AppendUint64(epochValue, uint64(epoch))

	batch := ps.db.NewBatch()
	defer batch.Close()
	if err = batch.Set([]byte(snapshotKey), value, nil); err != nil {
		return errors.Wrapf(err, "setting key [%s]", snapshotKey)
	}
	if err = batch.Set([]byte(snapshotEpochKey), epochValue, nil); err != nil {
		return errors.Wrapf(err, "setting key [%s] to [%d]", snapshotEpochKey, epoch)
	}
	// both keys or none
	err = batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "saving snapshot of epoch [%d]", epoch)
	}
	return nil
}

func (ps *PebbleStore) LoadSnapshot() (domain.Epoch, *domain.Snapshot, error) {
	epochValue, err := ps.get(snapshotEpochKey)
	if err != nil {
		return 0, nil, err
	}
	if len(epochValue) != 8 {
		return 0, nil, errors.Errorf("invalid epoch value of length [%d]", len(epochValue))
	}
	epoch := domain.Epoch(binary.BigEndian.Uint64(epochValue))

	value, err := ps.get(snapshotKey)
	if err != nil {
		return 0, nil, err
	}
	var snapshot domain.Snapshot
	err = json.Unmarshal(value, &snapshot)
	if err != nil {
		return 0, nil, errors.Wrap(err, "decoding snapshot")
	}
	return epoch, &snapshot, nil
}

// get returns a copy of the value, pebble only guarantees the value until the closer is closed.
func (ps *PebbleStore) get(key string) ([]byte, error) {
	value, closer, err := ps.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting value for key [%s]", key)
	}
	defer closer.Close()

	return append([]byte(nil), value...), nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}
