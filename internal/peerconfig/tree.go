package peerconfig

import "strings"

// Tree holds the full set of known configs, keyed by normalized name, and
// resolves the per-peer / per-context layering spec.md §3 describes: a
// config named "foo" may inherit unset peer-level properties from a
// context-level config named "@default" (or an explicit "@context").
type Tree struct {
	contexts map[string]*Config
	peers    map[string]*Config
}

// NewTree returns an empty config tree.
func NewTree() *Tree {
	return &Tree{
		contexts: make(map[string]*Config),
		peers:    make(map[string]*Config),
	}
}

// Put stores cfg under its normalized name. Names containing "@" are
// treated as context-level configs (e.g. "@default"); everything else is
// peer-level.
func (t *Tree) Put(cfg *Config) {
	name := Normalize(cfg.Name)
	cfg.Name = name
	if strings.HasPrefix(name, "@") {
		t.contexts[name] = cfg
		return
	}
	t.peers[name] = cfg
}

// Get resolves name to its peer config, layering in context defaults for
// any zero-valued peer-level property. Returns ok=false if no peer config
// exists under that name.
func (t *Tree) Get(name string) (*Config, bool) {
	peer, ok := t.peers[Normalize(name)]
	if !ok {
		return nil, false
	}
	ctx, hasCtx := t.contexts["@default"]
	if !hasCtx {
		return peer, true
	}
	return layer(peer, ctx), true
}

// layer returns a copy of peer with zero-valued fields filled in from ctx.
func layer(peer, ctx *Config) *Config {
	merged := peer.Clone()
	if len(merged.SyncURL) == 0 {
		merged.SyncURL = ctx.SyncURL
	}
	if merged.RetryDuration == 0 {
		merged.RetryDuration = ctx.RetryDuration
	}
	if merged.AutoSync == "" {
		merged.AutoSync = ctx.AutoSync
	}
	if merged.AutoSyncInterval == 0 {
		merged.AutoSyncInterval = ctx.AutoSyncInterval
	}
	if merged.AutoSyncDelay == 0 {
		merged.AutoSyncDelay = ctx.AutoSyncDelay
	}
	if merged.NotifyLevel == "" {
		merged.NotifyLevel = ctx.NotifyLevel
	}
	return merged
}

// Names returns every known peer config name, sorted.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.peers))
	for name := range t.peers {
		names = append(names, name)
	}
	return sortedStrings(names)
}

// Delete removes a peer config by name. Context configs are not
// removable through this method.
func (t *Tree) Delete(name string) {
	delete(t.peers, Normalize(name))
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
