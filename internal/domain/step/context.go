package step

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Replica is the parsed replica descriptor.
type Replica struct {
	Realm       string `yaml:"realm" json:"realm" toml:"realm" koanf:"realm"`
	Domain      string `yaml:"domain" json:"domain" toml:"domain" koanf:"domain"`
	Host        string `yaml:"host,omitempty" json:"host,omitempty" toml:"host,omitempty" koanf:"host"`
	Master      string `yaml:"master" json:"master" toml:"master" koanf:"master"`
	SubjectBase string `yaml:"subject_base,omitempty" json:"subject_base,omitempty" toml:"subject_base,omitempty" koanf:"subject_base"`
}

// ErrIncompleteReplica is returned by Replica.Validate.
var ErrIncompleteReplica = errors.New("replica descriptor is incomplete")

// Validate checks the fields every step relies on.
func (r Replica) Validate() error {
	var missing []string
	if r.Realm == "" {
		missing = append(missing, "realm")
	}
	if r.Domain == "" {
		missing = append(missing, "domain")
	}
	if r.Master == "" {
		missing = append(missing, "master")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteReplica, strings.Join(missing, ", "))
	}
	return nil
}

// IsZero reports whether no field is set.
func (r Replica) IsZero() bool {
	return r == Replica{}
}

// InstallContext is the mutable state shared by every step of one run.
// It is owned by the installer for the duration of the run.
type InstallContext struct {
	ReplicaFile string
	Replica     Replica
	Hostname    string
	Server      string

	// Password is the directory manager password. It is never persisted.
	Password    string
	RetrieveKey bool

	Unattended  bool
	Verbose     bool
	NoHostDNS   bool
	LogFile     string
	StateDir    string
	StepTimeout time.Duration

	markers map[string]string
}

// SetMarker records a value computed by a step, addressed by section and
// key. Markers are persisted with the state so that Undo can reuse them in
// a later process.
func (c *InstallContext) SetMarker(section, key, value string) {
	if c.markers == nil {
		c.markers = make(map[string]string)
	}
	c.markers[markerKey(section, key)] = value
}

// Marker returns a previously recorded marker.
func (c *InstallContext) Marker(section, key string) (string, bool) {
	v, ok := c.markers[markerKey(section, key)]
	return v, ok
}

// Markers returns a copy of all markers keyed "section.key".
func (c *InstallContext) Markers() map[string]string {
	return maps.Clone(c.markers)
}

// ClearMarkers removes every marker in section.
func (c *InstallContext) ClearMarkers(section string) {
	prefix := section + "."
	for k := range c.markers {
		if strings.HasPrefix(k, prefix) {
			delete(c.markers, k)
		}
	}
}

func markerKey(section, key string) string {
	return section + "." + key
}

// Snapshot is the persisted subset of an InstallContext needed to resume or
// undo in a later process. It holds no secrets.
type Snapshot struct {
	ReplicaFile string            `yaml:"replica_file,omitempty"`
	Replica     Replica           `yaml:"replica"`
	Hostname    string            `yaml:"hostname,omitempty"`
	Server      string            `yaml:"server,omitempty"`
	RetrieveKey bool              `yaml:"retrieve_key,omitempty"`
	NoHostDNS   bool              `yaml:"no_host_dns,omitempty"`
	Markers     map[string]string `yaml:"markers,omitempty"`
}

// Snapshot captures the persistable part of the context.
func (c *InstallContext) Snapshot() Snapshot {
	return Snapshot{
		ReplicaFile: c.ReplicaFile,
		Replica:     c.Replica,
		Hostname:    c.Hostname,
		Server:      c.Server,
		RetrieveKey: c.RetrieveKey,
		NoHostDNS:   c.NoHostDNS,
		Markers:     maps.Clone(c.markers),
	}
}

// Restore fills fields the caller left unset from a snapshot. Values the
// caller supplied win, including markers.
func (c *InstallContext) Restore(s Snapshot) {
	if c.ReplicaFile == "" {
		c.ReplicaFile = s.ReplicaFile
	}
	if c.Replica.IsZero() {
		c.Replica = s.Replica
	}
	if c.Hostname == "" {
		c.Hostname = s.Hostname
	}
	if c.Server == "" {
		c.Server = s.Server
	}
	if !c.RetrieveKey {
		c.RetrieveKey = s.RetrieveKey
	}
	if !c.NoHostDNS {
		c.NoHostDNS = s.NoHostDNS
	}
	for k, v := range s.Markers {
		if _, ok := c.markers[k]; ok {
			continue
		}
		if c.markers == nil {
			c.markers = make(map[string]string, len(s.Markers))
		}
		c.markers[k] = v
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	s.Markers = maps.Clone(s.Markers)
	return s
}
