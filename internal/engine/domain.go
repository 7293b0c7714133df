// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import "strings"

// ParentDomain maps a fully-qualified domain to its reporting parent: the
// last two labels joined by a dot ("gateway.icloud.com" -> "icloud.com").
// Domains with two or fewer labels are returned unchanged.
//
// This is a deliberate simplification that misgroups multi-label public
// suffixes ("example.co.uk" -> "co.uk"). Dashboards depend on the existing
// grouping, so the heuristic is kept as-is; correcting it would require a
// versioned public-suffix table as a separate data dependency.
func ParentDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
