package pantheonix

import (
	"context"
	"sync"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// storageOp is one pending write-behind operation, either a write or a delete.
type storageOp struct {
	logger runtime.Logger
	nk     runtime.NakamaModule
	write  *runtime.StorageWrite
	del    *runtime.StorageDelete
}

// writeBehindQueue serializes asynchronous persistence per storage key so that rapid
// successive snapshots of one aggregate cannot land out of order. Only the latest
// pending operation per key is kept: in-memory state is authoritative and every
// snapshot is complete, so intermediate ones are skippable.
type writeBehindQueue struct {
	mu      sync.Mutex
	pending map[string]*storageOp
	active  map[string]bool
}

var writeBehind = &writeBehindQueue{
	pending: make(map[string]*storageOp),
	active:  make(map[string]bool),
}

func (q *writeBehindQueue) enqueue(key string, op *storageOp) {
	q.mu.Lock()
	q.pending[key] = op
	if q.active[key] {
		q.mu.Unlock()
		return
	}
	q.active[key] = true
	q.mu.Unlock()
	go q.drain(key)
}

func (q *writeBehindQueue) drain(key string) {
	for {
		q.mu.Lock()
		op, ok := q.pending[key]
		if !ok {
			q.active[key] = false
			q.mu.Unlock()
			return
		}
		delete(q.pending, key)
		q.mu.Unlock()

		if op.write != nil {
			if _, err := op.nk.StorageWrite(context.Background(), []*runtime.StorageWrite{op.write}); err != nil {
				op.logger.Error("Write-behind persistence failed for %s/%s: %v", op.write.Collection, op.write.Key, err)
			}
			continue
		}
		if err := op.nk.StorageDelete(context.Background(), []*runtime.StorageDelete{op.del}); err != nil {
			op.logger.Error("Write-behind delete failed for %s/%s: %v", op.del.Collection, op.del.Key, err)
		}
	}
}

// writeStorageAsync schedules a best-effort write-behind persistence of an aggregate
// snapshot. A failed write is logged and retried only by the shutdown flush.
func writeStorageAsync(logger runtime.Logger, nk runtime.NakamaModule, write *runtime.StorageWrite) {
	key := write.Collection + "/" + write.Key + "/" + write.UserID
	writeBehind.enqueue(key, &storageOp{logger: logger, nk: nk, write: write})
}

// deleteStorageAsync schedules a best-effort removal of a persisted aggregate, ordered
// with any pending writes of the same key.
func deleteStorageAsync(logger runtime.Logger, nk runtime.NakamaModule, del *runtime.StorageDelete) {
	key := del.Collection + "/" + del.Key + "/" + del.UserID
	writeBehind.enqueue(key, &storageOp{logger: logger, nk: nk, del: del})
}

// listStorageAll pages through every system-owned object in a collection.
func listStorageAll(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, collection string) ([]*api.StorageObject, error) {
	objects := make([]*api.StorageObject, 0)
	cursor := ""
	for {
		page, nextCursor, err := nk.StorageList(ctx, "", "", collection, 100, cursor)
		if err != nil {
			logger.Error("Failed to list storage collection %s: %v", collection, err)
			return nil, err
		}
		objects = append(objects, page...)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	return objects, nil
}
