package observation

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Конвейер только читает наблюдения: записи создаёт внешняя система.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции чтения наблюдений ученика.
type Repository interface {
	// GetEmotions возвращает эмоциональные наблюдения с момента since.
	GetEmotions(ctx context.Context, studentID StudentID, since time.Time) ([]EmotionObservation, error)

	// GetSensory возвращает сенсорные наблюдения с момента since.
	GetSensory(ctx context.Context, studentID StudentID, since time.Time) ([]SensoryObservation, error)

	// GetSessions возвращает сессии отслеживания с момента since.
	GetSessions(ctx context.Context, studentID StudentID, since time.Time) ([]TrackingSession, error)

	// GetInterventions возвращает интервенции ученика.
	GetInterventions(ctx context.Context, studentID StudentID) ([]Intervention, error)

	// GetGoals возвращает цели ученика.
	GetGoals(ctx context.Context, studentID StudentID) ([]Goal, error)

	// ListStudentIDs возвращает идентификаторы учеников, имеющих
	// наблюдения с момента since. Используется фоновыми задачами.
	ListStudentIDs(ctx context.Context, since time.Time) ([]StudentID, error)
}
