// Package baseline содержит доменную модель статистического базиса ученика.
// Базис - это робастный справочник "обычного" недавнего поведения:
// медианы и IQR по эмоциям, бета-биномиальные постериоры по сенсорному
// поведению, корреляции факторов среды. Детекторы читают базис как
// неизменяемый снимок; единственный писатель - сервис базиса.
package baseline

import (
	"errors"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinSessions - минимум сессий для расчёта базиса.
	MinSessions = 10

	// MinUniqueDays - минимум уникальных дней для расчёта базиса.
	MinUniqueDays = 7

	// RecordVersion - версия формы записи базиса для персистентности.
	RecordVersion = 1
)

// WindowWidths - ширины скользящих окон базиса в днях.
var WindowWidths = []int{7, 14, 30}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS BLOCKS
// ══════════════════════════════════════════════════════════════════════════════

// RobustStats - робастная статистика одного эмоционального ряда.
type RobustStats struct {
	// Median - медиана интенсивности после удаления выбросов.
	Median float64 `json:"median"`

	// IQR - межквартильный размах (аппроксимация 1.349×MAD).
	IQR float64 `json:"iqr"`

	// CILower, CIUpper - приближённый доверительный интервал медианы.
	CILower float64 `json:"ciLower"`
	CIUpper float64 `json:"ciUpper"`

	// Trend - робастный наклон ряда (единиц интенсивности на точку),
	// рассчитывается при >=2 чистых точках.
	Trend float64 `json:"trend"`

	// SampleCount - число точек после фильтрации выбросов.
	SampleCount int `json:"sampleCount"`

	// InsufficientData - после фильтрации не осталось пригодных точек.
	// Такие ключи никогда не обнуляются молча.
	InsufficientData bool `json:"insufficientData"`
}

// BehaviorPosterior - бета-биномиальный постериор частоты поведения.
type BehaviorPosterior struct {
	// Mean - аналитическое постериорное среднее.
	Mean float64 `json:"mean"`

	// Variance - аналитическая постериорная дисперсия.
	Variance float64 `json:"variance"`

	// CrILower, CrIUpper - 95% байесовский интервал (нормальная
	// аппроксимация).
	CrILower float64 `json:"criLower"`
	CrIUpper float64 `json:"criUpper"`

	// Trials - число испытаний (сессия либо день).
	Trials int `json:"trials"`

	// Successes - испытания с высокоинтенсивным проявлением.
	Successes int `json:"successes"`

	// InsufficientData - в окне не было ни одного испытания.
	InsufficientData bool `json:"insufficientData"`
}

// FactorStats - статистика фактора среды.
type FactorStats struct {
	// Median - медиана значений фактора после фильтрации выбросов.
	Median float64 `json:"median"`

	// IQR - межквартильный размах (1.349×MAD).
	IQR float64 `json:"iqr"`

	// Correlation - корреляция Пирсона с пиковой эмоциональной
	// интенсивностью той же записи, только по выровненному по индексам
	// подмножеству без выбросов.
	Correlation float64 `json:"correlation"`

	// SampleCount - число точек после фильтрации.
	SampleCount int `json:"sampleCount"`

	// InsufficientData - пригодных точек не осталось.
	InsufficientData bool `json:"insufficientData"`
}

// ══════════════════════════════════════════════════════════════════════════════
// WINDOW & RECORD
// ══════════════════════════════════════════════════════════════════════════════

// WindowBaseline - базис одного скользящего окна.
type WindowBaseline struct {
	// WindowDays - ширина окна в днях (7/14/30).
	WindowDays int `json:"windowDays"`

	// Emotions - робастная статистика по категориям эмоций.
	Emotions map[observation.EmotionCategory]RobustStats `json:"emotions"`

	// Behaviors - постериоры по типам сенсорного поведения.
	Behaviors map[observation.SensoryBehavior]BehaviorPosterior `json:"behaviors"`

	// Environment - статистика факторов среды.
	Environment map[observation.EnvironmentalFactor]FactorStats `json:"environment"`

	// InsufficientKeys - ключи, оставшиеся без пригодных данных.
	InsufficientKeys []string `json:"insufficientKeys,omitempty"`
}

// Quality - необязательный блок качества базиса.
type Quality struct {
	// OutlierRate - доля выбросов по эмоциональным рядам.
	OutlierRate float64 `json:"outlierRate"`

	// Stability - 1 минус нормированная величина сдвига тренда
	// репрезентативного ряда среды.
	Stability float64 `json:"stability"`

	// Reliability - sufficiencyFactor × (1−0.5×outlierRate) ×
	// (0.5+0.5×stability), обрезано в [0,1].
	Reliability float64 `json:"reliability"`
}

// StudentBaseline - полная запись базиса ученика. Хранится и
// заменяется целиком, ключ - идентификатор ученика.
type StudentBaseline struct {
	// StudentID - владелец записи.
	StudentID observation.StudentID `json:"studentId"`

	// Version - версия формы записи.
	Version int `json:"version"`

	// ComputedAt - момент расчёта.
	ComputedAt time.Time `json:"computedAt"`

	// SessionCount - число сессий, на которых построен базис.
	SessionCount int `json:"sessionCount"`

	// UniqueDays - число уникальных дней.
	UniqueDays int `json:"uniqueDays"`

	// SufficiencyFactor - нормированная достаточность выборки [0,1].
	SufficiencyFactor float64 `json:"sufficiencyFactor"`

	// Windows - базисы по ширинам окон, ключ - дни.
	Windows map[int]WindowBaseline `json:"windows"`

	// Quality - блок качества (опционально).
	Quality *Quality `json:"quality,omitempty"`
}

// Window возвращает базис окна заданной ширины и признак его наличия.
func (b *StudentBaseline) Window(days int) (WindowBaseline, bool) {
	if b == nil || b.Windows == nil {
		return WindowBaseline{}, false
	}
	w, ok := b.Windows[days]
	return w, ok
}

// EmotionStats возвращает статистику категории в самом широком окне,
// где она присутствует с достаточными данными.
func (b *StudentBaseline) EmotionStats(category observation.EmotionCategory) (RobustStats, bool) {
	if b == nil {
		return RobustStats{}, false
	}
	for i := len(WindowWidths) - 1; i >= 0; i-- {
		if w, ok := b.Windows[WindowWidths[i]]; ok {
			if s, ok := w.Emotions[category]; ok && !s.InsufficientData {
				return s, true
			}
		}
	}
	return RobustStats{}, false
}

// BehaviorRate возвращает постериор поведения в самом широком окне.
func (b *StudentBaseline) BehaviorRate(behavior observation.SensoryBehavior) (BehaviorPosterior, bool) {
	if b == nil {
		return BehaviorPosterior{}, false
	}
	for i := len(WindowWidths) - 1; i >= 0; i-- {
		if w, ok := b.Windows[WindowWidths[i]]; ok {
			if p, ok := w.Behaviors[behavior]; ok && !p.InsufficientData {
				return p, true
			}
		}
	}
	return BehaviorPosterior{}, false
}

// EnvironmentStats возвращает статистику фактора среды в самом широком
// окне, где она присутствует с достаточными данными.
func (b *StudentBaseline) EnvironmentStats(factor observation.EnvironmentalFactor) (FactorStats, bool) {
	if b == nil {
		return FactorStats{}, false
	}
	for i := len(WindowWidths) - 1; i >= 0; i-- {
		if w, ok := b.Windows[WindowWidths[i]]; ok {
			if s, ok := w.Environment[factor]; ok && !s.InsufficientData {
				return s, true
			}
		}
	}
	return FactorStats{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrBaselineNotFound - базис для ученика не найден.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrInsufficientData - данных недостаточно для расчёта базиса.
	ErrInsufficientData = errors.New("insufficient data for baseline")
)
