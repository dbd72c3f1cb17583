// Package alert содержит доменную модель событий-алертов Kreativium
// Insights Hub. Алерт - итог конвейера детекции: ранжированное,
// дедуплицированное событие о статистически значимом отклонении.
// Конвейер создаёт алерты только в статусе New; все дальнейшие
// переходы выполняют внешние потребители.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Kind - категория алерта (совпадает с категорией кандидата).
type Kind string

const (
	// KindBehaviorSpike - всплеск эмоциональной/поведенческой
	// интенсивности.
	KindBehaviorSpike Kind = "behavior_spike"

	// KindSensoryRateShift - сдвиг частоты сенсорного поведения.
	KindSensoryRateShift Kind = "sensory_rate_shift"

	// KindContextAssociation - ассоциация с фактором среды.
	KindContextAssociation Kind = "context_association"

	// KindIntensityBurst - кластер высокоинтенсивных событий.
	KindIntensityBurst Kind = "intensity_burst"

	// KindInterventionOutcome - исход интервенции.
	KindInterventionOutcome Kind = "intervention_outcome"
)

// IsValid проверяет, что категория известна.
func (k Kind) IsValid() bool {
	switch k {
	case KindBehaviorSpike, KindSensoryRateShift, KindContextAssociation,
		KindIntensityBurst, KindInterventionOutcome:
		return true
	default:
		return false
	}
}

// Severity - серьёзность алерта, ступенчатая функция итоговой оценки.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank возвращает числовой ранг серьёзности для сравнения.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// SeverityCuts - настраиваемые точки отсечения ступенчатой функции.
// Это политика, а не контракт: значения приходят из конфигурации.
type SeverityCuts struct {
	High     float64
	Moderate float64
	Low      float64
}

// DefaultSeverityCuts возвращает значения по умолчанию.
func DefaultSeverityCuts() SeverityCuts {
	return SeverityCuts{High: 0.8, Moderate: 0.6, Low: 0.4}
}

// SeverityFor отображает итоговую оценку в серьёзность.
func (c SeverityCuts) SeverityFor(score float64) Severity {
	switch {
	case score >= c.High:
		return SeverityHigh
	case score >= c.Moderate:
		return SeverityModerate
	case score >= c.Low:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS STATE MACHINE
// New → {Acknowledged, InProgress} → {Resolved, Dismissed};
// New → Snoozed → New по истечении. Конвейер создаёт только New.
// ══════════════════════════════════════════════════════════════════════════════

// Status - статус жизненного цикла алерта.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
	StatusSnoozed      Status = "snoozed"
)

// IsValid проверяет, что статус известен.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusInProgress,
		StatusResolved, StatusDismissed, StatusSnoozed:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для конечных статусов.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// CanTransitionTo проверяет допустимость перехода статуса.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusNew:
		return next == StatusAcknowledged || next == StatusInProgress || next == StatusSnoozed
	case StatusAcknowledged, StatusInProgress:
		return next == StatusResolved || next == StatusDismissed || next == StatusInProgress
	case StatusSnoozed:
		return next == StatusNew
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCES & GOVERNANCE
// ══════════════════════════════════════════════════════════════════════════════

// Source - вклад одного детектора, ранжированный по убыванию.
type Source struct {
	// Detector - тип детектора.
	Detector detection.Type `json:"detector"`

	// Score и Confidence - значения после применения порога.
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`

	// Rank - позиция по вкладу (1 - наибольший).
	Rank int `json:"rank"`

	// Impact - направление эффекта.
	Impact detection.ImpactHint `json:"impact,omitempty"`
}

// Governance - служебные поля управления, вырезаемые политиками перед
// эмиссией наружу.
type Governance struct {
	// Tier - категориальный вес кандидата.
	Tier float64 `json:"tier"`

	// Recency - вес свежести на момент агрегации.
	Recency float64 `json:"recency"`

	// RunAt - момент запуска детекции.
	RunAt time.Time `json:"runAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT EVENT
// ══════════════════════════════════════════════════════════════════════════════

// AlertEvent - финализированное событие-алерт.
type AlertEvent struct {
	// ID - детерминированный идентификатор: одинаковые входы дают
	// одинаковый ID.
	ID string `json:"id"`

	// StudentID - ученик.
	StudentID observation.StudentID `json:"studentId"`

	// Kind - категория алерта.
	Kind Kind `json:"kind"`

	// Label - человекочитаемая метка феномена (категория эмоции, тип
	// поведения, фактор среды, название интервенции).
	Label string `json:"label"`

	// Severity - серьёзность.
	Severity Severity `json:"severity"`

	// Score - итоговая агрегированная оценка [0,1].
	Score float64 `json:"score"`

	// Confidence - максимальная уверенность детекторов [0,1].
	Confidence float64 `json:"confidence"`

	// CreatedAt - момент создания.
	CreatedAt time.Time `json:"createdAt"`

	// LastTimestamp - последняя точка ряда, породившего алерт.
	LastTimestamp time.Time `json:"lastTimestamp"`

	// Status - статус жизненного цикла.
	Status Status `json:"status"`

	// SnoozedUntil - момент истечения отложенности (для Snoozed).
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`

	// UpdatedAt - момент последнего перехода статуса; nil, пока
	// потребители не трогали алерт.
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	// DedupeKey - стабильный ключ дедупликации, не зависящий от
	// оценки и времени запуска.
	DedupeKey string `json:"dedupeKey"`

	// Sources - вклады детекторов, ранжированные по убыванию.
	Sources []Source `json:"sources"`

	// Metadata - открытая карта диагностики для потребителей
	// (разбор оценки, трасса порога, эксперимент, превью ряда).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Governance - служебные поля; вырезаются перед эмиссией.
	Governance *Governance `json:"-"`
}

// alertNamespace - фиксированное пространство имён UUIDv5 для
// детерминированных идентификаторов алертов.
var alertNamespace = uuid.MustParse("8f6f3f2a-5f1d-4e4b-9a37-1f24c8a4d9b1")

// ComputeID возвращает детерминированный идентификатор алерта из
// (ученик, категория, метка, последняя точка ряда).
func ComputeID(studentID observation.StudentID, kind Kind, label string, lastTimestamp time.Time) string {
	name := fmt.Sprintf("%s|%s|%s|%d", studentID, kind, label, lastTimestamp.UTC().UnixMilli())
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}

// ComputeDedupeKey возвращает стабильный ключ дедупликации,
// не зависящий от оценки и временной метки.
func ComputeDedupeKey(studentID observation.StudentID, kind Kind, label string) string {
	return fmt.Sprintf("%s|%s|%s", studentID, kind, label)
}

// Transition выполняет переход статуса с валидацией машины состояний.
// Вызывается только внешними потребителями, не конвейером.
func (e *AlertEvent) Transition(next Status, at time.Time) error {
	if !next.IsValid() {
		return ErrInvalidStatus
	}
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	if next != StatusSnoozed {
		e.SnoozedUntil = nil
	}
	e.UpdatedAt = &at
	return nil
}

// Snooze откладывает алерт до момента until; at - время перехода.
func (e *AlertEvent) Snooze(until, at time.Time) error {
	if err := e.Transition(StatusSnoozed, at); err != nil {
		return err
	}
	e.SnoozedUntil = &until
	return nil
}

// ExpireSnooze возвращает отложенный алерт в New, если срок истёк.
// Возвращает true, если переход произошёл.
func (e *AlertEvent) ExpireSnooze(now time.Time) bool {
	if e.Status != StatusSnoozed || e.SnoozedUntil == nil {
		return false
	}
	if now.Before(*e.SnoozedUntil) {
		return false
	}
	e.Status = StatusNew
	e.SnoozedUntil = nil
	e.UpdatedAt = &now
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAlertNotFound - алерт не найден.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidStatus - неизвестный статус.
	ErrInvalidStatus = errors.New("invalid alert status")

	// ErrInvalidTransition - недопустимый переход статуса.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)
