package peerconfig

// Source is one named backend instance within a Config (spec.md §3).
type Source struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName,omitempty"`
	Backend     string            `json:"backend"`
	MIMEType    string            `json:"mimeType"`
	MIMEVersion string            `json:"mimeVersion,omitempty"`
	URI         string            `json:"uri,omitempty"`
	SyncMode    SyncMode          `json:"sync"`
	Filter      map[string]string `json:"filter,omitempty"`
}

// SyncMode is the per-source synchronization mode (spec.md §6).
type SyncMode string

const (
	SyncTwoWay               SyncMode = "two-way"
	SyncSlow                 SyncMode = "slow"
	SyncRefreshFromClient    SyncMode = "refresh-from-client"
	SyncRefreshFromServer    SyncMode = "refresh-from-server"
	SyncOneWayFromClient     SyncMode = "one-way-from-client"
	SyncOneWayFromServer     SyncMode = "one-way-from-server"
	SyncDisabled             SyncMode = "disabled"
)

// validSyncModes enumerates every mode the property registry accepts.
var validSyncModes = map[SyncMode]bool{
	SyncTwoWay:            true,
	SyncSlow:               true,
	SyncRefreshFromClient: true,
	SyncRefreshFromServer: true,
	SyncOneWayFromClient:  true,
	SyncOneWayFromServer:  true,
	SyncDisabled:          true,
}

// IsForcedSlowSync reports whether the "type" filter entry carries a
// ":force" suffix, e.g. "evolution-contacts:text/vcard:3.0:force".
func (s *Source) IsForcedSlowSync() bool {
	return len(s.Filter["type"]) > 0 && hasForceSuffix(s.Filter["type"])
}

func hasForceSuffix(typeSpec string) bool {
	const suffix = ":force"
	return len(typeSpec) >= len(suffix) && typeSpec[len(typeSpec)-len(suffix):] == suffix
}

// Clone returns a deep copy so callers can mutate without aliasing the
// Config tree's in-memory copy.
func (s *Source) Clone() *Source {
	clone := *s
	if s.Filter != nil {
		clone.Filter = make(map[string]string, len(s.Filter))
		for k, v := range s.Filter {
			clone.Filter[k] = v
		}
	}
	return &clone
}
