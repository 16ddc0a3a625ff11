package ledger

import (
	"sort"

	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// VersionLookup reports whether a policy version is registered.
type VersionLookup interface {
	Has(id string) bool
}

// ValidateTraces checks that every trace cites a registered policy version.
// Orphans are returned together as an *IntegrityError; the ledger itself is
// not consulted or changed.
func ValidateTraces(traces []trajectory.Trace, registry VersionLookup) error {
	var orphans []Orphan
	for _, tr := range traces {
		if tr.PolicyVersion == "" || !registry.Has(tr.PolicyVersion) {
			orphans = append(orphans, Orphan{
				Trace:         TraceRef{PersonaID: tr.PersonaID, VariantID: tr.VariantID},
				PolicyVersion: tr.PolicyVersion,
			})
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	sort.Slice(orphans, func(i, j int) bool {
		a, b := orphans[i].Trace, orphans[j].Trace
		if a.PersonaID != b.PersonaID {
			return a.PersonaID < b.PersonaID
		}
		return a.VariantID < b.VariantID
	})
	return &IntegrityError{Orphans: orphans}
}
