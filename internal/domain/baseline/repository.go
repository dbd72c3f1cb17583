package baseline

import (
	"context"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Интерфейс определяет контракт для хранилища базисов.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над записями базиса.
// Одна запись на ученика; запись читается и заменяется только целиком.
type Repository interface {
	// Get возвращает базис ученика.
	// Возвращает ErrBaselineNotFound, если базис ещё не рассчитан.
	Get(ctx context.Context, studentID observation.StudentID) (*StudentBaseline, error)

	// Save атомарно заменяет запись базиса целиком.
	Save(ctx context.Context, b *StudentBaseline) error
}
