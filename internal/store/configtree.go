package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

// configDoc is the on-disk YAML shape of a peerconfig.Config. Field names
// are chosen to read naturally as a config file, independent of the
// in-memory struct's json tags.
type configDoc struct {
	Name             string            `yaml:"name"`
	SyncURL          []string          `yaml:"syncURL,omitempty"`
	CredentialsKey   string            `yaml:"credentialsKey,omitempty"`
	RetryDuration    time.Duration     `yaml:"retryDuration"`
	AutoSync         string            `yaml:"autoSync,omitempty"`
	AutoSyncInterval time.Duration     `yaml:"autoSyncInterval"`
	AutoSyncDelay    time.Duration     `yaml:"autoSyncDelay"`
	RemoteDeviceID   string            `yaml:"remoteDeviceID,omitempty"`
	PeerName         string            `yaml:"peerName,omitempty"`
	NotifyLevel      string            `yaml:"notifyLevel,omitempty"`
	Sources          []sourceDoc       `yaml:"sources,omitempty"`
}

type sourceDoc struct {
	Name        string            `yaml:"name"`
	DisplayName string            `yaml:"displayName,omitempty"`
	Backend     string            `yaml:"backend"`
	MIMEType    string            `yaml:"mimeType"`
	MIMEVersion string            `yaml:"mimeVersion,omitempty"`
	URI         string            `yaml:"uri,omitempty"`
	Sync        string            `yaml:"sync"`
	Filter      map[string]string `yaml:"filter,omitempty"`
}

func toDoc(cfg *peerconfig.Config) configDoc {
	doc := configDoc{
		Name:             cfg.Name,
		SyncURL:          cfg.SyncURL,
		CredentialsKey:   cfg.CredentialsKey,
		RetryDuration:    cfg.RetryDuration,
		AutoSync:         cfg.AutoSync,
		AutoSyncInterval: cfg.AutoSyncInterval,
		AutoSyncDelay:    cfg.AutoSyncDelay,
		RemoteDeviceID:   cfg.RemoteDeviceID,
		PeerName:         cfg.PeerName,
		NotifyLevel:      string(cfg.NotifyLevel),
	}
	for _, src := range cfg.Sources() {
		doc.Sources = append(doc.Sources, sourceDoc{
			Name:        src.Name,
			DisplayName: src.DisplayName,
			Backend:     src.Backend,
			MIMEType:    src.MIMEType,
			MIMEVersion: src.MIMEVersion,
			URI:         src.URI,
			Sync:        string(src.SyncMode),
			Filter:      src.Filter,
		})
	}
	return doc
}

func fromDoc(doc configDoc) *peerconfig.Config {
	cfg := peerconfig.NewConfig(doc.Name)
	cfg.SyncURL = doc.SyncURL
	cfg.CredentialsKey = doc.CredentialsKey
	cfg.RetryDuration = doc.RetryDuration
	cfg.AutoSync = doc.AutoSync
	cfg.AutoSyncInterval = doc.AutoSyncInterval
	cfg.AutoSyncDelay = doc.AutoSyncDelay
	cfg.RemoteDeviceID = doc.RemoteDeviceID
	cfg.PeerName = doc.PeerName
	cfg.NotifyLevel = peerconfig.NotifyLevel(doc.NotifyLevel)
	for _, s := range doc.Sources {
		cfg.AddSource(&peerconfig.Source{
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Backend:     s.Backend,
			MIMEType:    s.MIMEType,
			MIMEVersion: s.MIMEVersion,
			URI:         s.URI,
			SyncMode:    peerconfig.SyncMode(s.Sync),
			Filter:      s.Filter,
		})
	}
	return cfg
}

// ConfigTreeStore persists a peerconfig.Tree as one YAML file per
// normalized config name under rootDir (spec.md §6: "Config tree under a
// filesystem directory keyed by normalized config name"). Parsed configs
// are kept in a bounded LRU cache so repeated Get lookups during a
// busy sync session don't re-parse YAML from disk each time.
type ConfigTreeStore struct {
	rootDir string
	cache   *lru.Cache[string, *peerconfig.Config]
}

// NewConfigTreeStore opens (creating if necessary) the config tree
// directory rootDir, with a read-through cache holding up to cacheSize
// parsed configs.
func NewConfigTreeStore(rootDir string, cacheSize int) (*ConfigTreeStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config tree dir: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.New[string, *peerconfig.Config](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create config cache: %w", err)
	}
	return &ConfigTreeStore{rootDir: rootDir, cache: cache}, nil
}

func (s *ConfigTreeStore) pathFor(name string) string {
	return filepath.Join(s.rootDir, peerconfig.Normalize(name)+".yaml")
}

// Load walks rootDir and returns every config it finds as a populated
// peerconfig.Tree. Malformed files are skipped rather than failing the
// whole load, since one corrupt config shouldn't block startup.
func (s *ConfigTreeStore) Load() (*peerconfig.Tree, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read config tree dir: %w", err)
	}

	tree := peerconfig.NewTree()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		cfg, err := s.readFile(s.pathFor(name))
		if err != nil {
			continue
		}
		tree.Put(cfg)
		s.cache.Add(cfg.Name, cfg)
	}
	return tree, nil
}

func (s *ConfigTreeStore) readFile(path string) (*peerconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc configDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return fromDoc(doc), nil
}

// Get resolves a single config by normalized name, consulting the cache
// before touching disk.
func (s *ConfigTreeStore) Get(name string) (*peerconfig.Config, bool, error) {
	name = peerconfig.Normalize(name)
	if cfg, ok := s.cache.Get(name); ok {
		return cfg, true, nil
	}
	cfg, err := s.readFile(s.pathFor(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(name, cfg)
	return cfg, true, nil
}

// Put writes cfg to disk atomically and refreshes the cache entry.
func (s *ConfigTreeStore) Put(cfg *peerconfig.Config) error {
	doc := toDoc(cfg)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config %q: %w", cfg.Name, err)
	}

	path := s.pathFor(cfg.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config %q: %w", cfg.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", cfg.Name, err)
	}
	s.cache.Add(cfg.Name, cfg)
	return nil
}

// Delete removes a config's file and evicts it from the cache. A
// not-found file is not an error: deleting an already-gone config is a
// no-op, matching spec.md's idempotent config removal.
func (s *ConfigTreeStore) Delete(name string) error {
	name = peerconfig.Normalize(name)
	s.cache.Remove(name)
	if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete config %q: %w", name, err)
	}
	return nil
}
