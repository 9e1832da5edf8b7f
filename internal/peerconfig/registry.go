package peerconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// propertyKind distinguishes peer-level from per-source properties so
// SetConfig/SetNamedConfig can validate both shapes the same way.
type propertyKind int

const (
	peerProperty propertyKind = iota
	sourceProperty
)

// propertySpec describes one recognized configuration property: its kind
// and an optional validator. set_config rejects any key absent from this
// table (spec.md §7 InvalidCall: "includes unknown config property").
type propertySpec struct {
	kind     propertyKind
	validate func(value string) error
}

// registry is the fixed set of properties the core recognizes (spec.md §6
// "Configuration recognized by the core").
var registry = map[string]propertySpec{
	"syncURL":          {kind: peerProperty},
	"autoSync":         {kind: peerProperty, validate: validateAutoSync},
	"autoSyncInterval": {kind: peerProperty, validate: validateNonNegativeSeconds},
	"autoSyncDelay":    {kind: peerProperty, validate: validateNonNegativeSeconds},
	"RetryDuration":    {kind: peerProperty, validate: validateNonNegativeSeconds},
	"retryDuration":    {kind: peerProperty, validate: validateNonNegativeSeconds},
	"remoteDeviceID":   {kind: peerProperty},
	"PeerName":         {kind: peerProperty},
	"credentialsKey":   {kind: peerProperty},
	"notifyLevel":      {kind: peerProperty, validate: validateNotifyLevel},

	"sync": {kind: sourceProperty, validate: validateSyncMode},
	"type": {kind: sourceProperty},
	"uri":  {kind: sourceProperty},
}

// ValidateProperty rejects unknown property names and out-of-range
// values, the InvalidCall condition spec.md §7 requires of SetConfig.
func ValidateProperty(name, value string) error {
	spec, ok := registry[name]
	if !ok {
		return fmt.Errorf("%w: unknown config property %q", ErrInvalidProperty, name)
	}
	if spec.validate != nil {
		if err := spec.validate(value); err != nil {
			return fmt.Errorf("%w: property %q: %v", ErrInvalidProperty, name, err)
		}
	}
	return nil
}

// ErrInvalidProperty is wrapped by ValidateProperty failures; callers map
// it to the InvalidCall error taxonomy entry.
var ErrInvalidProperty = fmt.Errorf("invalid config property")

func validateAutoSync(value string) error {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "0", "1", "true", "false":
		return nil
	}
	for _, kind := range strings.Split(v, ",") {
		kind = strings.TrimSpace(kind)
		if kind != "http" && kind != "obex-bt" {
			return fmt.Errorf("unrecognized transport kind %q", kind)
		}
	}
	return nil
}

func validateNonNegativeSeconds(value string) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %v", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateNotifyLevel(value string) error {
	switch NotifyLevel(value) {
	case "", NotifyNone, NotifyErrors, NotifyAll:
		return nil
	}
	return fmt.Errorf("unrecognized notify level %q", value)
}

func validateSyncMode(value string) error {
	if !validSyncModes[SyncMode(value)] {
		return fmt.Errorf("unrecognized sync mode %q", value)
	}
	return nil
}

// ApplyProperties validates and applies a batch of peer-level property
// updates, returning the first validation error encountered. Partial
// application never happens — the caller should validate the whole batch
// before mutating the live Config.
func ApplyProperties(cfg *Config, props map[string]string) error {
	for name, value := range props {
		spec, ok := registry[name]
		if !ok {
			return fmt.Errorf("%w: unknown config property %q", ErrInvalidProperty, name)
		}
		if spec.kind != peerProperty {
			return fmt.Errorf("%w: property %q is per-source, not peer-level", ErrInvalidProperty, name)
		}
		if err := ValidateProperty(name, value); err != nil {
			return err
		}
	}
	for name, value := range props {
		applyPeerProperty(cfg, name, value)
	}
	return nil
}

func applyPeerProperty(cfg *Config, name, value string) {
	switch name {
	case "syncURL":
		cfg.SyncURL = strings.Fields(value)
	case "autoSync":
		cfg.AutoSync = value
	case "autoSyncInterval":
		cfg.AutoSyncInterval = secondsDuration(value)
	case "autoSyncDelay":
		cfg.AutoSyncDelay = secondsDuration(value)
	case "RetryDuration", "retryDuration":
		cfg.RetryDuration = secondsDuration(value)
	case "remoteDeviceID":
		cfg.RemoteDeviceID = value
	case "PeerName":
		cfg.PeerName = value
	case "credentialsKey":
		cfg.CredentialsKey = value
	case "notifyLevel":
		cfg.NotifyLevel = NotifyLevel(value)
	}
}

func secondsDuration(value string) time.Duration {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}

