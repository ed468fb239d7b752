// Package connector models the optional external data sources as a
// config-time capability set. The product ships in several editions differing
// only in which native clients are enabled (mysql, postgres, sftp, shapefile);
// rather than hard-coding one list, a profile declares the capabilities and
// the connectors refuse to open sources the profile does not grant.
package connector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-pkgz/stringutils"
)

// Capability names one optional external client.
type Capability string

// supported capabilities
const (
	CapMySQL     Capability = "mysql"
	CapPostgres  Capability = "postgres"
	CapSFTP      Capability = "sftp"
	CapShapefile Capability = "shapefile"
)

// ErrCapabilityUnavailable is returned when a connector is asked to open a
// source its profile did not enable, or for which no client is built in.
var ErrCapabilityUnavailable = errors.New("capability not enabled in this profile")

var knownCapabilities = []Capability{CapMySQL, CapPostgres, CapSFTP, CapShapefile}

// Set is the group of capabilities granted by a profile.
type Set map[Capability]bool

// ParseSet builds a Set from capability names, deduplicating and rejecting
// unknown ones.
func ParseSet(names []string) (Set, error) {
	s := Set{}
	for _, name := range stringutils.DeDup(names) {
		c := Capability(strings.ToLower(strings.TrimSpace(name)))
		if !stringutils.Contains(string(c), capabilityNames()) {
			return nil, fmt.Errorf("unknown capability %q, supported: %s", name, strings.Join(capabilityNames(), ", "))
		}
		s[c] = true
	}
	return s, nil
}

// Has reports whether the capability is granted.
func (s Set) Has(c Capability) bool { return s[c] }

// String lists granted capabilities in stable order.
func (s Set) String() string {
	var names []string
	for c, ok := range s {
		if ok {
			names = append(names, string(c))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func capabilityNames() []string {
	names := make([]string, len(knownCapabilities))
	for i, c := range knownCapabilities {
		names[i] = string(c)
	}
	return names
}
