package alert

import (
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// CandidateMeta - диагностика кандидата: число валидных детекторов,
// средняя уверенность, длина ряда.
type CandidateMeta struct {
	ValidDetectorCount int     `json:"validDetectorCount"`
	MeanConfidence     float64 `json:"meanConfidence"`
	SeriesLength       int     `json:"seriesLength"`
}

// Candidate - транзиентная группировка результатов детекторов,
// предположительно описывающих один феномен. Никогда не сохраняется:
// живёт только между генерацией и финализацией в пределах одного
// запуска.
type Candidate struct {
	// Kind - категория кандидата.
	Kind Kind

	// Label - метка феномена (категория эмоции, тип поведения, ...).
	Label string

	// Detectors - выжившие после применения порога результаты.
	Detectors []*detection.Result

	// Series - ряд, породивший кандидата.
	Series observation.Series

	// LastTimestamp - последняя точка ряда.
	LastTimestamp time.Time

	// Tier - категориальный вес [0,1].
	Tier float64

	// Meta - диагностика кандидата.
	Meta CandidateMeta
}

// NewCandidate строит кандидата из выживших результатов, заполняя
// диагностику. Возвращает nil, если не выжил ни один детектор:
// такой кандидат отбрасывается целиком до агрегации.
func NewCandidate(kind Kind, label string, tier float64, series observation.Series, results []*detection.Result) *Candidate {
	valid := make([]*detection.Result, 0, len(results))
	sumConfidence := 0.0
	for _, r := range results {
		if !r.IsValid() {
			continue
		}
		valid = append(valid, r)
		sumConfidence += r.Confidence
	}
	if len(valid) == 0 {
		return nil
	}

	last, _ := series.Last()
	return &Candidate{
		Kind:          kind,
		Label:         label,
		Detectors:     valid,
		Series:        series,
		LastTimestamp: last.Timestamp,
		Tier:          tier,
		Meta: CandidateMeta{
			ValidDetectorCount: len(valid),
			MeanConfidence:     sumConfidence / float64(len(valid)),
			SeriesLength:       len(series),
		},
	}
}
