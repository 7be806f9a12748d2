package agent

import "github.com/False-Maker/memflow/internal/store"

// splitIntoSessions groups activities (already newest-first) into sessions
// separated by a gap of more than gapMinutes between consecutive rows. Port
// of original_source's split_into_sessions: same descending-timestamp
// assumption, same single-pass grouping, rewritten against
// store.Activity instead of a raw SQL row.
func splitIntoSessions(rows []store.Activity, gapMinutes int64) [][]store.Activity {
	if len(rows) == 0 {
		return nil
	}
	gapSeconds := gapMinutes * 60

	var sessions [][]store.Activity
	var current []store.Activity
	var lastTimestamp int64
	haveLast := false

	for _, row := range rows {
		if haveLast && lastTimestamp-row.Timestamp > gapSeconds {
			if len(current) > 0 {
				sessions = append(sessions, current)
				current = nil
			}
		}
		current = append(current, row)
		lastTimestamp = row.Timestamp
		haveLast = true
	}
	if len(current) > 0 {
		sessions = append(sessions, current)
	}
	return sessions
}

// selectContextRows apportions up to maxItems rows across sessions,
// proportional to session length with a floor of 5 rows per session. Port
// of original_source's select_context_rows.
func selectContextRows(sessions [][]store.Activity, maxItems int) []store.Activity {
	if len(sessions) == 0 {
		return nil
	}

	totalRows := 0
	for _, s := range sessions {
		totalRows += len(s)
	}

	var selected []store.Activity
	remaining := maxItems

	for _, session := range sessions {
		if remaining == 0 {
			break
		}

		var quota int
		if len(sessions) == 1 {
			quota = remaining
		} else {
			minQuota := 5
			if minQuota > remaining {
				minQuota = remaining
			}
			proportional := 0
			if totalRows > 0 {
				proportional = len(session) * remaining / totalRows
			}
			if proportional < minQuota {
				proportional = minQuota
			}
			if proportional > remaining {
				proportional = remaining
			}
			quota = proportional
		}

		for _, row := range session {
			if quota == 0 || remaining == 0 {
				break
			}
			selected = append(selected, row)
			remaining--
			quota--
		}
	}
	return selected
}
