package alert

// Deduplicate группирует финализированные события по ключу
// дедупликации и оставляет самое серьёзное (при равенстве - самое
// свежее). Порядок результата не специфицирован: потребитель
// сортирует сам.
func Deduplicate(events []AlertEvent) []AlertEvent {
	best := make(map[string]AlertEvent, len(events))
	order := make([]string, 0, len(events))

	for _, e := range events {
		prev, seen := best[e.DedupeKey]
		if !seen {
			best[e.DedupeKey] = e
			order = append(order, e.DedupeKey)
			continue
		}
		if supersedes(e, prev) {
			best[e.DedupeKey] = e
		}
	}

	out := make([]AlertEvent, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// supersedes возвращает true, если кандидат должен вытеснить прежнего:
// выше серьёзность, либо при равной серьёзности более свежая точка.
func supersedes(candidate, current AlertEvent) bool {
	if candidate.Severity.Rank() != current.Severity.Rank() {
		return candidate.Severity.Rank() > current.Severity.Rank()
	}
	return candidate.LastTimestamp.After(current.LastTimestamp)
}

// StripGovernance вырезает служебные поля управления перед эмиссией
// событий внешним потребителям.
func StripGovernance(events []AlertEvent) []AlertEvent {
	out := make([]AlertEvent, len(events))
	for i, e := range events {
		e.Governance = nil
		out[i] = e
	}
	return out
}

// Govern применяет политики к финализированному списку: дедупликация,
// затем вырезание служебных полей.
func Govern(events []AlertEvent) []AlertEvent {
	return StripGovernance(Deduplicate(events))
}
