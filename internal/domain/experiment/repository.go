package experiment

import (
	"context"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// OverrideRepository - хранилище поправок порогов.
// Одна запись на тип детектора, заменяется целиком.
type OverrideRepository interface {
	// Get возвращает поправку для типа детектора.
	// Возвращает ErrOverrideNotFound, если поправки ещё нет.
	Get(ctx context.Context, detectorType detection.Type) (*ThresholdOverride, error)

	// GetAll возвращает все существующие поправки.
	GetAll(ctx context.Context) ([]ThresholdOverride, error)

	// Save атомарно заменяет запись поправки.
	Save(ctx context.Context, override ThresholdOverride) error
}

// AssignmentRepository - хранилище назначений вариантов.
// Одна запись на пару (ключ эксперимента, ученик).
type AssignmentRepository interface {
	// Get возвращает назначение для пары (ключ, ученик).
	// Возвращает ErrAssignmentNotFound при отсутствии.
	Get(ctx context.Context, experimentKey string, studentID observation.StudentID) (*ExperimentAssignment, error)

	// Save сохраняет назначение (первое или явное переназначение).
	Save(ctx context.Context, a ExperimentAssignment) error
}
