package shared

import "fmt"

// SyncLockKey builds the redis key guarding the sync pass of a store.
func SyncLockKey(storeID string) string {
	return fmt.Sprintf("pos:sync:store:%s:lock", storeID)
}
