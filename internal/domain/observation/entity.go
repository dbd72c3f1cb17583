// Package observation содержит доменную модель наблюдений Kreativium Insights Hub.
// Это ядро входных данных конвейера детекции - здесь нет внешних зависимостей.
package observation

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// StudentID представляет уникальный идентификатор ученика.
type StudentID string

// IsValid проверяет, что идентификатор непустой.
func (s StudentID) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// String возвращает строковое представление идентификатора.
func (s StudentID) String() string {
	return string(s)
}

// Intensity представляет интенсивность наблюдения по шкале 0-10.
type Intensity float64

// IsValid проверяет, что интенсивность в допустимом диапазоне.
func (i Intensity) IsValid() bool {
	return i >= 0 && i <= 10
}

// IsHigh возвращает true для интенсивности высокого уровня (>=7).
func (i Intensity) IsHigh() bool {
	return i >= HighIntensityThreshold
}

// HighIntensityThreshold - порог высокой интенсивности по шкале 0-10.
const HighIntensityThreshold = 7.0

// EmotionCategory представляет категорию эмоции (happy, anxious, ...).
type EmotionCategory string

// IsValid проверяет, что категория непустая.
func (c EmotionCategory) IsValid() bool {
	return strings.TrimSpace(string(c)) != ""
}

// SensoryBehavior представляет тип сенсорного поведения
// (seeking-auditory, avoiding-tactile, ...).
type SensoryBehavior string

// IsValid проверяет, что тип поведения непустой.
func (b SensoryBehavior) IsValid() bool {
	return strings.TrimSpace(string(b)) != ""
}

// EnvironmentalFactor представляет фактор среды, измеряемый вместе
// с записью (noise-level, light-level, crowding, ...).
type EnvironmentalFactor string

// MaxSeriesLength ограничивает длину временного ряда для защиты
// производительности детекторов. Более старые точки отбрасываются.
const MaxSeriesLength = 500

// ══════════════════════════════════════════════════════════════════════════════
// TREND POINT & SERIES
// ══════════════════════════════════════════════════════════════════════════════

// TrendPoint - одна точка временного ряда.
type TrendPoint struct {
	// Timestamp - момент наблюдения.
	Timestamp time.Time

	// Value - числовое значение (интенсивность, частота и т.д.).
	Value float64
}

// Series - упорядоченный по возрастанию времени ряд точек.
// Дубликаты временных меток допустимы.
type Series []TrendPoint

// NewSeries строит ряд из точек: сортирует по времени (стабильно)
// и усекает до MaxSeriesLength последних точек.
func NewSeries(points []TrendPoint) Series {
	s := make(Series, len(points))
	copy(s, points)
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
	if len(s) > MaxSeriesLength {
		s = s[len(s)-MaxSeriesLength:]
	}
	return s
}

// Values возвращает значения ряда в порядке времени.
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// Last возвращает последнюю точку ряда и признак её наличия.
func (s Series) Last() (TrendPoint, bool) {
	if len(s) == 0 {
		return TrendPoint{}, false
	}
	return s[len(s)-1], true
}

// Window возвращает подряд точек, попадающих в интервал (from, to].
func (s Series) Window(from, to time.Time) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if p.Timestamp.After(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	return out
}

// Truncate возвращает не более n последних точек ряда.
func (s Series) Truncate(n int) Series {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// UniqueDays возвращает число уникальных календарных дат (UTC) в ряде.
func (s Series) UniqueDays() int {
	days := make(map[string]struct{}, len(s))
	for _, p := range s {
		days[p.Timestamp.UTC().Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATIONS
// ══════════════════════════════════════════════════════════════════════════════

// EmotionObservation - одно эмоциональное наблюдение.
type EmotionObservation struct {
	// ID - идентификатор записи.
	ID string

	// StudentID - ученик, к которому относится наблюдение.
	StudentID StudentID

	// SessionID - сессия отслеживания, в которой сделана запись
	// (может быть пустым для одиночных записей).
	SessionID string

	// Category - категория эмоции.
	Category EmotionCategory

	// Intensity - интенсивность 0-10.
	Intensity Intensity

	// Environment - измеренные факторы среды на момент записи.
	Environment map[EnvironmentalFactor]float64

	// Timestamp - момент наблюдения.
	Timestamp time.Time
}

// SensoryObservation - одно сенсорное наблюдение.
type SensoryObservation struct {
	// ID - идентификатор записи.
	ID string

	// StudentID - ученик.
	StudentID StudentID

	// SessionID - сессия отслеживания (опционально).
	SessionID string

	// Behavior - тип сенсорного поведения.
	Behavior SensoryBehavior

	// Intensity - интенсивность 0-10.
	Intensity Intensity

	// Timestamp - момент наблюдения.
	Timestamp time.Time
}

// TrackingSession - составная сессия отслеживания: одна встреча,
// в рамках которой сделано несколько наблюдений.
type TrackingSession struct {
	// ID - идентификатор сессии.
	ID string

	// StudentID - ученик.
	StudentID StudentID

	// StartedAt - начало сессии.
	StartedAt time.Time

	// CompletedAt - завершение сессии (нулевое время для открытых).
	CompletedAt time.Time
}

// IsCompleted возвращает true, если сессия завершена.
func (s TrackingSession) IsCompleted() bool {
	return !s.CompletedAt.IsZero()
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVENTIONS & GOALS
// ══════════════════════════════════════════════════════════════════════════════

// Goal - цель, к которой привязана интервенция.
type Goal struct {
	// ID - идентификатор цели.
	ID string

	// StudentID - ученик.
	StudentID StudentID

	// Title - название цели.
	Title string

	// MetricCategory - категория наблюдений, по которой измеряется
	// прогресс (категория эмоции или тип поведения).
	MetricCategory string
}

// Intervention - интервенция с фазой A (до) и фазой B (после начала).
type Intervention struct {
	// ID - идентификатор интервенции.
	ID string

	// StudentID - ученик.
	StudentID StudentID

	// GoalID - связанная цель.
	GoalID string

	// Name - название интервенции.
	Name string

	// StartedAt - начало фазы B.
	StartedAt time.Time
}

// SplitPhases делит ряд на фазу A (до начала интервенции) и фазу B
// (от начала включительно).
func (iv Intervention) SplitPhases(series Series) (phaseA, phaseB Series) {
	for _, p := range series {
		if p.Timestamp.Before(iv.StartedAt) {
			phaseA = append(phaseA, p)
		} else {
			phaseB = append(phaseB, p)
		}
	}
	return phaseA, phaseB
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidStudentID - пустой идентификатор ученика.
	ErrInvalidStudentID = errors.New("invalid student id: must be non-empty")

	// ErrInvalidIntensity - интенсивность вне шкалы 0-10.
	ErrInvalidIntensity = errors.New("invalid intensity: must be in range 0-10")

	// ErrInvalidCategory - пустая категория наблюдения.
	ErrInvalidCategory = errors.New("invalid category: must be non-empty")
)

// ValidateEmotion проверяет корректность эмоционального наблюдения.
// Некорректные записи исключаются из расчётов, не прерывая их.
func ValidateEmotion(o EmotionObservation) error {
	if !o.StudentID.IsValid() {
		return ErrInvalidStudentID
	}
	if !o.Category.IsValid() {
		return ErrInvalidCategory
	}
	if !o.Intensity.IsValid() {
		return ErrInvalidIntensity
	}
	return nil
}

// ValidateSensory проверяет корректность сенсорного наблюдения.
func ValidateSensory(o SensoryObservation) error {
	if !o.StudentID.IsValid() {
		return ErrInvalidStudentID
	}
	if !o.Behavior.IsValid() {
		return ErrInvalidCategory
	}
	if !o.Intensity.IsValid() {
		return ErrInvalidIntensity
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION COUNTING
// ══════════════════════════════════════════════════════════════════════════════

// CountSessions возвращает число сессий для проверки достаточности
// данных: предпочитает число составных сессий, иначе число уникальных
// дней среди всех временных меток.
func CountSessions(sessions []TrackingSession, timestamps []time.Time) int {
	if len(sessions) > 0 {
		return len(sessions)
	}
	days := make(map[string]struct{}, len(timestamps))
	for _, t := range timestamps {
		days[t.UTC().Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}

// UniqueDayCount возвращает число уникальных календарных дат (UTC)
// среди временных меток.
func UniqueDayCount(timestamps []time.Time) int {
	days := make(map[string]struct{}, len(timestamps))
	for _, t := range timestamps {
		days[t.UTC().Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}
