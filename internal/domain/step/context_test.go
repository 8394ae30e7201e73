package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplica_Validate(t *testing.T) {
	t.Parallel()

	ok := Replica{Realm: "EXAMPLE.TEST", Domain: "example.test", Master: "ipa1.example.test"}
	assert.NoError(t, ok.Validate())

	err := Replica{Realm: "EXAMPLE.TEST"}.Validate()
	require.ErrorIs(t, err, ErrIncompleteReplica)
	assert.Contains(t, err.Error(), "domain, master")
	assert.True(t, Replica{}.IsZero())
}

func TestInstallContext_Markers(t *testing.T) {
	t.Parallel()

	var ic InstallContext
	_, ok := ic.Marker("dogtag", "port")
	assert.False(t, ok)

	ic.SetMarker("dogtag", "port", "8443")
	ic.SetMarker("dogtag", "profile", "caIPAserviceCert")
	ic.SetMarker("httpd", "conf", "/etc/httpd/conf.d/ipa.conf")

	v, ok := ic.Marker("dogtag", "port")
	require.True(t, ok)
	assert.Equal(t, "8443", v)

	ic.ClearMarkers("dogtag")
	assert.Equal(t, map[string]string{"httpd.conf": "/etc/httpd/conf.d/ipa.conf"}, ic.Markers())
}

func TestInstallContext_SnapshotOmitsSecrets(t *testing.T) {
	t.Parallel()

	ic := &InstallContext{
		ReplicaFile: "/root/replica.yaml",
		Replica:     Replica{Realm: "EXAMPLE.TEST", Domain: "example.test", Master: "ipa1"},
		Hostname:    "ipa2.example.test",
		Password:    "Secret123",
		RetrieveKey: true,
	}
	ic.SetMarker("krb", "keytab", "/etc/krb5.keytab")

	snap := ic.Snapshot()
	assert.Equal(t, "/root/replica.yaml", snap.ReplicaFile)
	assert.True(t, snap.RetrieveKey)
	assert.Equal(t, map[string]string{"krb.keytab": "/etc/krb5.keytab"}, snap.Markers)

	// The snapshot must not alias the context's markers.
	snap.Markers["krb.keytab"] = "changed"
	v, _ := ic.Marker("krb", "keytab")
	assert.Equal(t, "/etc/krb5.keytab", v)
}

func TestInstallContext_RestoreKeepsCallerValues(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		ReplicaFile: "/root/replica.yaml",
		Replica:     Replica{Realm: "EXAMPLE.TEST", Domain: "example.test", Master: "ipa1"},
		Hostname:    "ipa2.example.test",
		Server:      "ipa1.example.test",
		NoHostDNS:   true,
		Markers:     map[string]string{"krb.keytab": "/old", "ca.port": "8443"},
	}

	ic := &InstallContext{Server: "ipa3.example.test", Password: "pw"}
	ic.SetMarker("krb", "keytab", "/new")
	ic.Restore(snap)

	assert.Equal(t, "/root/replica.yaml", ic.ReplicaFile)
	assert.Equal(t, "EXAMPLE.TEST", ic.Replica.Realm)
	assert.Equal(t, "ipa2.example.test", ic.Hostname)
	assert.Equal(t, "ipa3.example.test", ic.Server, "caller value wins")
	assert.Equal(t, "pw", ic.Password)
	assert.True(t, ic.NoHostDNS)
	assert.Equal(t, map[string]string{"krb.keytab": "/new", "ca.port": "8443"}, ic.Markers())

	clone := snap.Clone()
	clone.Markers["ca.port"] = "9443"
	assert.Equal(t, "8443", snap.Markers["ca.port"])
}
