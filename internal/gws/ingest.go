// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package gws

import (
	"fmt"
	"time"

	"github.com/tomtom215/driveguard/internal/cache"
	"github.com/tomtom215/driveguard/internal/detection"
	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

// Metric stream labels.
const (
	streamRecon  = "recon"
	streamEgress = "egress"
)

// egressMatcher classifies Drive event names by substring against the known
// egress patterns. Built once at package init.
var egressMatcher = cache.NewPatternMatcherFromSlice(detection.EgressEventPatterns, nil)

// ParseReconEvents extracts assistant recon events from the Gemini activity
// feed. The feed names every event "feature_utilization" and carries the
// interaction type in the "action" parameter, so classification keys on the
// parameters, not the event name. Records that do not parse are skipped with
// a warning; a single malformed record must never abort a run.
func ParseReconEvents(activities []Activity) []*detection.ReconEvent {
	var events []*detection.ReconEvent

	for _, activity := range activities {
		ts, ok := activityTime(activity, streamRecon)
		if !ok {
			continue
		}
		if activity.Actor.Email == "" {
			metrics.RecordEventSkipped(streamRecon, "missing_actor")
			logging.Warn().Str("time", activity.ID.Time).Msg("recon record has no actor, skipping")
			continue
		}

		for i, event := range activity.Events {
			params := paramList(event.Parameters)
			action := params.str("action")
			if _, ok := detection.ReconActions[action]; !ok {
				metrics.RecordEventSkipped(streamRecon, "not_recon")
				continue
			}
			app := params.str("app_name")
			if _, ok := detection.ReconApps[app]; !ok {
				metrics.RecordEventSkipped(streamRecon, "not_recon")
				continue
			}

			events = append(events, &detection.ReconEvent{
				Actor:     activity.Actor.Email,
				Timestamp: ts,
				App:       app,
				Action:    action,
				EventID:   eventID(activity, i),
				DocID:     params.str("doc_id"),
			})
			metrics.RecordEventParsed(streamRecon)
		}
	}
	return events
}

// ParseEgressEvents extracts potential-egress events from the Drive activity
// feed. Event names are matched by substring so variants like
// "download_unsampled" still classify.
func ParseEgressEvents(activities []Activity) []*detection.EgressEvent {
	var events []*detection.EgressEvent

	for _, activity := range activities {
		ts, ok := activityTime(activity, streamEgress)
		if !ok {
			continue
		}
		if activity.Actor.Email == "" {
			metrics.RecordEventSkipped(streamEgress, "missing_actor")
			logging.Warn().Str("time", activity.ID.Time).Msg("egress record has no actor, skipping")
			continue
		}

		for i, event := range activity.Events {
			if !egressMatcher.Contains(event.Name) {
				metrics.RecordEventSkipped(streamEgress, "not_egress")
				continue
			}
			params := paramList(event.Parameters)

			events = append(events, &detection.EgressEvent{
				Actor:               activity.Actor.Email,
				Timestamp:           ts,
				EventName:           event.Name,
				DocID:               params.str("doc_id"),
				DocTitle:            params.str("doc_title"),
				Visibility:          params.str("visibility"),
				OldVisibility:       params.str("old_visibility"),
				NewValue:            params.str("new_value"),
				OldValue:            params.str("old_value"),
				Owner:               params.str("owner"),
				DestinationFolderID: params.str("destination_folder_id"),
				EventID:             eventID(activity, i),
				IPAddress:           activity.IPAddress,
			})
			metrics.RecordEventParsed(streamEgress)
		}
	}
	return events
}

// activityTime parses the record timestamp, skipping the record when absent
// or unparsable.
func activityTime(activity Activity, stream string) (time.Time, bool) {
	if activity.ID.Time == "" {
		metrics.RecordEventSkipped(stream, "missing_time")
		logging.Warn().Str("stream", stream).Msg("activity record has no timestamp, skipping")
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, activity.ID.Time)
	if err != nil {
		metrics.RecordEventSkipped(stream, "malformed")
		logging.Warn().Err(err).Str("time", activity.ID.Time).Str("stream", stream).Msg("unparsable activity timestamp, skipping")
		return time.Time{}, false
	}
	return ts, true
}

// eventID derives a stable event identifier. The Reports API qualifier is
// per-record; multi-event records get an index suffix.
func eventID(activity Activity, index int) string {
	base := activity.ID.UniqueQualifier
	if base == "" {
		base = activity.ID.Time
	}
	if index == 0 {
		return base
	}
	return fmt.Sprintf("%s/%d", base, index)
}
