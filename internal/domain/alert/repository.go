package alert

import (
	"context"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ListOptions - параметры выборки алертов.
type ListOptions struct {
	// Statuses ограничивает выборку статусами (пусто - все).
	Statuses []Status

	// Limit и Offset - пагинация.
	Limit  int
	Offset int
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50}
}

// Repository определяет операции над сохранёнными алертами.
type Repository interface {
	// Upsert сохраняет событие; повторное событие с тем же ID
	// заменяет прежнее целиком.
	Upsert(ctx context.Context, e *AlertEvent) error

	// GetByID возвращает алерт по идентификатору.
	// Возвращает ErrAlertNotFound, если алерт не найден.
	GetByID(ctx context.Context, id string) (*AlertEvent, error)

	// ListByStudent возвращает алерты ученика.
	ListByStudent(ctx context.Context, studentID observation.StudentID, opts ListOptions) ([]AlertEvent, error)

	// ListSnoozedExpired возвращает отложенные алерты с истёкшим
	// сроком.
	ListSnoozedExpired(ctx context.Context, now time.Time) ([]AlertEvent, error)

	// Update обновляет существующее событие (переходы статуса).
	// Возвращает ErrAlertNotFound, если алерт не найден.
	Update(ctx context.Context, e *AlertEvent) error

	// DeleteTerminalBefore удаляет конечные алерты старше порога.
	// Возвращает число удалённых записей.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
