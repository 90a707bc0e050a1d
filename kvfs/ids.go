package kvfs

import (
	"github.com/gregpaulos/kvfs/idalloc"
	"github.com/gregpaulos/kvfs/kvfserr"
	"github.com/gregpaulos/kvfs/store"
)

// allocateAndPut picks a fresh random id unused within txn and stores value
// under it, retrying collisions per idalloc's bounded-attempts policy.
func (fs *Filesystem) allocateAndPut(txn store.RWTxn, value []byte) (string, error) {
	id, err := idalloc.New(func(candidate string) (bool, error) {
		_, ok, err := txn.Get(candidate)
		return ok, err
	})
	if err != nil {
		return "", kvfserr.WrapEIO("", err)
	}
	if _, err := txn.Put(id, value, false); err != nil {
		return "", kvfserr.WrapEIO("", err)
	}
	return id, nil
}
