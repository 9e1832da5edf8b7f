// Package peerconfig models the per-peer synchronization profile that
// spec.md §3 calls a "Config": a named, ordered set of Sources plus
// peer-level properties (sync URL, credentials key, retry duration,
// auto-sync spec, notify level), stored hierarchically with a per-peer
// layer overriding a per-context layer.
package peerconfig

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NotifyLevel controls how much the daemon surfaces sync outcomes to the
// user (spec.md §6 "notify level").
type NotifyLevel string

const (
	NotifyNone    NotifyLevel = "none"
	NotifyErrors  NotifyLevel = "errors"
	NotifyAll     NotifyLevel = "all"
)

// Config is the peer-level synchronization profile: an ordered set of
// Sources plus properties that apply to the whole peer.
type Config struct {
	// Name is the normalized config name, e.g. "scheduleworld".
	Name string `json:"name"`

	// SyncURL lists the transport endpoints to try, in order.
	SyncURL []string `json:"syncURL,omitempty"`

	// CredentialsKey names the keyring entry holding the peer's password.
	CredentialsKey string `json:"credentialsKey,omitempty"`

	// RetryDuration is how long a Connection waits in WAITING before
	// expiring (spec.md §5).
	RetryDuration time.Duration `json:"retryDuration"`

	// AutoSync is the raw auto-sync spec: "1", "0", "true", "false",
	// "http", "obex-bt", or a CSV of transport kinds.
	AutoSync string `json:"autoSync,omitempty"`

	// AutoSyncInterval is the minimum time between automatic syncs.
	AutoSyncInterval time.Duration `json:"autoSyncInterval"`

	// AutoSyncDelay is how long to wait, once a transport becomes
	// reachable, before starting an automatic sync.
	AutoSyncDelay time.Duration `json:"autoSyncDelay"`

	// RemoteDeviceID matches inbound SETUP messages to this config
	// (connection matching strategy (c), spec.md §5).
	RemoteDeviceID string `json:"remoteDeviceID,omitempty"`

	// PeerName is the human-readable display name.
	PeerName string `json:"peerName,omitempty"`

	// NotifyLevel controls UI notification verbosity.
	NotifyLevel NotifyLevel `json:"notifyLevel,omitempty"`

	// sources preserves insertion order; Source.Name is unique within it.
	sourceOrder []string
	sources     map[string]*Source
}

// NewConfig returns an empty Config named name.
func NewConfig(name string) *Config {
	return &Config{
		Name:    Normalize(name),
		sources: make(map[string]*Source),
	}
}

// AddSource appends src, replacing any existing source of the same name
// in place (preserving its original position).
func (c *Config) AddSource(src *Source) {
	if c.sources == nil {
		c.sources = make(map[string]*Source)
	}
	if _, exists := c.sources[src.Name]; !exists {
		c.sourceOrder = append(c.sourceOrder, src.Name)
	}
	c.sources[src.Name] = src
}

// Source looks up a source by name.
func (c *Config) Source(name string) (*Source, bool) {
	s, ok := c.sources[name]
	return s, ok
}

// Sources returns all sources in their configured order.
func (c *Config) Sources() []*Source {
	out := make([]*Source, 0, len(c.sourceOrder))
	for _, name := range c.sourceOrder {
		out = append(out, c.sources[name])
	}
	return out
}

// RemoveSource deletes a source by name.
func (c *Config) RemoveSource(name string) {
	delete(c.sources, name)
	for i, n := range c.sourceOrder {
		if n == name {
			c.sourceOrder = append(c.sourceOrder[:i], c.sourceOrder[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.sources = make(map[string]*Source, len(c.sources))
	clone.sourceOrder = append([]string(nil), c.sourceOrder...)
	for name, src := range c.sources {
		clone.sources[name] = src.Clone()
	}
	return &clone
}

// AutoSyncEnabled reports whether AutoSync names the given transport kind
// ("http", "obex-bt", ...), or is a boolean truthy value meaning "any".
func (c *Config) AutoSyncEnabled(transportKind string) bool {
	spec := strings.TrimSpace(strings.ToLower(c.AutoSync))
	switch spec {
	case "", "0", "false":
		return false
	case "1", "true":
		return true
	}
	for _, kind := range strings.Split(spec, ",") {
		if strings.TrimSpace(kind) == transportKind {
			return true
		}
	}
	return false
}

// Normalize resolves config name aliases to a single canonical key:
// lowercased, with surrounding whitespace trimmed and a trailing slash
// dropped, matching the legacy "context" suffix convention
// ("scheduleworld" vs "ScheduleWorld@default" both fold to the same
// directory key once the context suffix and case are normalized).
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, "/")
	if i := strings.Index(name, "@default"); i > 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// ToProperties flattens the peer-level properties into a string map, the
// shape GetConfig/SetConfig exchange with clients.
func (c *Config) ToProperties() map[string]string {
	props := map[string]string{
		"retryDuration":    durationSeconds(c.RetryDuration),
		"autoSyncInterval": durationSeconds(c.AutoSyncInterval),
		"autoSyncDelay":    durationSeconds(c.AutoSyncDelay),
	}
	if len(c.SyncURL) > 0 {
		props["syncURL"] = strings.Join(c.SyncURL, " ")
	}
	if c.CredentialsKey != "" {
		props["credentialsKey"] = c.CredentialsKey
	}
	if c.AutoSync != "" {
		props["autoSync"] = c.AutoSync
	}
	if c.RemoteDeviceID != "" {
		props["remoteDeviceID"] = c.RemoteDeviceID
	}
	if c.PeerName != "" {
		props["PeerName"] = c.PeerName
	}
	if c.NotifyLevel != "" {
		props["notifyLevel"] = string(c.NotifyLevel)
	}
	return props
}

func durationSeconds(d time.Duration) string {
	return fmt.Sprintf("%d", int64(d.Seconds()))
}

// SortedSourceNames is a convenience for deterministic iteration in tests
// and CheckSource/GetDatabases responses.
func (c *Config) SortedSourceNames() []string {
	names := append([]string(nil), c.sourceOrder...)
	sort.Strings(names)
	return names
}
