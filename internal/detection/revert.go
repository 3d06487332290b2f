// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package detection

import (
	"sort"
	"strings"
	"time"
)

// revertWindow is how quickly an external visibility change must be undone to
// count as an evasion toggle.
const revertWindow = 10 * time.Minute

// RevertDetector flags visibility flips that expose a document externally and
// revert within a short window. The pattern defeats periodic sharing audits:
// the document is public just long enough to pull it from outside.
type RevertDetector struct{}

// NewRevertDetector returns a revert detector.
func NewRevertDetector() *RevertDetector {
	return &RevertDetector{}
}

// Mark sets IsRevert on every event that participates in an
// expose-then-revert pair. It must run on the full egress batch before
// correlation reads the flag. Mark is idempotent: the flag is only ever set,
// never cleared, and a second pass produces the same result.
func (rd *RevertDetector) Mark(events []*EgressEvent) {
	groups := make(map[string][]*EgressEvent)
	for _, e := range events {
		if e.DocID == "" {
			continue
		}
		if !strings.Contains(e.EventName, "visibility") {
			continue
		}
		groups[e.DocID] = append(groups[e.DocID], e)
	}

	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		for i := 0; i+1 < len(group); i++ {
			curr, next := group[i], group[i+1]
			if next.Timestamp.Sub(curr.Timestamp) > revertWindow {
				continue
			}
			_, currHigh := HighRiskVisibility[curr.Visibility]
			_, nextHigh := HighRiskVisibility[next.Visibility]
			if currHigh && !nextHigh {
				curr.IsRevert = true
				next.IsRevert = true
			}
		}
	}
}
