package experiment

import (
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
)

// FeedbackOutcome - исход обратной связи по алерту.
type FeedbackOutcome string

const (
	// FeedbackConfirmed - алерт оказался полезным (истинное срабатывание).
	FeedbackConfirmed FeedbackOutcome = "confirmed"

	// FeedbackDismissed - алерт отклонён (ложное срабатывание).
	FeedbackDismissed FeedbackOutcome = "dismissed"
)

const (
	// learnStepUp - шаг повышения порога после ложного срабатывания.
	learnStepUp = 0.05

	// learnStepDown - шаг понижения порога после подтверждения.
	// Меньше шага повышения: пропущенный алерт дороже лишнего.
	learnStepDown = 0.025

	// adjustmentBound ограничивает поправку диапазоном [-0.5, 0.5].
	adjustmentBound = 0.5

	// confidenceStep - прирост уверенности за единицу обратной связи.
	confidenceStep = 0.05
)

// Learn применяет единицу обратной связи к поправке порога и
// возвращает обновлённую запись. Ложные срабатывания поднимают порог,
// подтверждения осторожно опускают; поправка ограничена
// [-0.5, +0.5], уверенность монотонно растёт к 1.
func Learn(prev *ThresholdOverride, detectorType detection.Type, outcome FeedbackOutcome, at time.Time) ThresholdOverride {
	next := ThresholdOverride{DetectorType: detectorType}
	if prev != nil {
		next = *prev
	}

	switch outcome {
	case FeedbackDismissed:
		next.AdjustmentValue += learnStepUp * (1 - next.ConfidenceLevel/2)
	case FeedbackConfirmed:
		next.AdjustmentValue -= learnStepDown * (1 - next.ConfidenceLevel/2)
	default:
		return next
	}

	if next.AdjustmentValue > adjustmentBound {
		next.AdjustmentValue = adjustmentBound
	}
	if next.AdjustmentValue < -adjustmentBound {
		next.AdjustmentValue = -adjustmentBound
	}

	next.ConfidenceLevel += confidenceStep
	if next.ConfidenceLevel > 1 {
		next.ConfidenceLevel = 1
	}
	next.LastUpdatedAt = at
	return next
}
