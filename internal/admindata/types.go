package admindata

import "context"

// MapItem is one entry of a source's LUID<->GUID map, the translation
// table component D reads and writes via read_next_map_item/
// insert_map_item/update_map_item/delete_map_item (spec.md §4.4).
type MapItem struct {
	LocalID  string
	RemoteID string
	Flags    int
}

// Store is the opaque per-peer admin-data persistence component D's
// adapter needs: a blob for engine-private state plus the LUID<->GUID
// map, keyed by "<config>/<source>".
type Store interface {
	LoadBlob(ctx context.Context, key string) ([]byte, error)
	SaveBlob(ctx context.Context, key string, data []byte) error
	LoadMapItems(ctx context.Context, key string) ([]MapItem, error)
	SaveMapItems(ctx context.Context, key string, items []MapItem) error
}
