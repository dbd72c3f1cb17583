// Package experiment содержит доменную модель адаптивных порогов и
// экспериментов. Пороги детекторов не фиксированы: обученные поправки
// (ThresholdOverride) подстраивают их по обратной связи, а эксперименты
// назначают ученикам липкие варианты отображения порога.
package experiment

import (
	"errors"
	"hash/fnv"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD OVERRIDE
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdOverride - обученная поправка порога одного типа детектора.
// Одна запись на тип детектора.
type ThresholdOverride struct {
	// DetectorType - тип детектора.
	DetectorType detection.Type `json:"detectorType"`

	// AdjustmentValue - знаковая доля: порог умножается на
	// (1 + AdjustmentValue).
	AdjustmentValue float64 `json:"adjustmentValue"`

	// ConfidenceLevel - уверенность в поправке [0,1], растёт с объёмом
	// обратной связи.
	ConfidenceLevel float64 `json:"confidenceLevel"`

	// LastUpdatedAt - момент последнего обучения.
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`

	// BaselineThreshold - явный базовый порог; nil означает
	// использование значения движка по умолчанию.
	BaselineThreshold *float64 `json:"baselineThreshold,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENTS & VARIANTS
// ══════════════════════════════════════════════════════════════════════════════

// Variant - имя экспериментального плеча.
type Variant string

const (
	// VariantControl пропускает обученное значение без изменений.
	VariantControl Variant = "control"

	// VariantRelaxed масштабирует порог вниз (больше алертов).
	VariantRelaxed Variant = "relaxed"

	// VariantStrict масштабирует порог вверх (меньше алертов).
	VariantStrict Variant = "strict"
)

// Arm - описание плеча эксперимента: либо масштабирование значения,
// либо подстановка фиксированного.
type Arm struct {
	// Name - имя варианта.
	Name Variant `json:"name"`

	// Scale - множитель порога (используется, когда Fixed == nil).
	Scale float64 `json:"scale"`

	// Fixed - фиксированное значение порога плеча (опционально).
	Fixed *float64 `json:"fixed,omitempty"`
}

// Map отображает обученное значение порога в применяемое.
func (a Arm) Map(value float64) float64 {
	if a.Fixed != nil {
		return *a.Fixed
	}
	if a.Scale <= 0 {
		return value
	}
	return value * a.Scale
}

// Definition - определение эксперимента над порогом типа детектора.
type Definition struct {
	// Key - ключ эксперимента (например "threshold-trend-v1").
	Key string `json:"key"`

	// DetectorType - тип детектора, порогом которого управляет
	// эксперимент.
	DetectorType detection.Type `json:"detectorType"`

	// Arms - плечи эксперимента; первое плечо считается контрольным.
	Arms []Arm `json:"arms"`
}

// DefaultDefinitions возвращает встроенные эксперименты: по одному на
// тип детектора, с контрольным, ослабленным и строгим плечами.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(detection.AllTypes()))
	for _, t := range detection.AllTypes() {
		defs = append(defs, Definition{
			Key:          "threshold-" + string(t) + "-v1",
			DetectorType: t,
			Arms: []Arm{
				{Name: VariantControl, Scale: 1.0},
				{Name: VariantRelaxed, Scale: 0.85},
				{Name: VariantStrict, Scale: 1.15},
			},
		})
	}
	return defs
}

// Arm возвращает плечо по имени варианта; при неизвестном варианте
// возвращается контрольное плечо.
func (d Definition) Arm(v Variant) Arm {
	for _, a := range d.Arms {
		if a.Name == v {
			return a
		}
	}
	if len(d.Arms) > 0 {
		return d.Arms[0]
	}
	return Arm{Name: VariantControl, Scale: 1.0}
}

// PickVariant детерминированно выбирает плечо для пары
// (ключ эксперимента, ученик). Используется только для первого
// назначения; дальше действует сохранённое.
func (d Definition) PickVariant(studentID observation.StudentID) Variant {
	if len(d.Arms) == 0 {
		return VariantControl
	}
	h := fnv.New32a()
	h.Write([]byte(d.Key))
	h.Write([]byte{'|'})
	h.Write([]byte(studentID))
	return d.Arms[int(h.Sum32())%len(d.Arms)].Name
}

// ExperimentAssignment - липкое назначение варианта паре
// (ключ эксперимента, ученик). Первое назначение сохраняется;
// последующие вызовы переиспользуют его, пока не произойдёт явное
// переназначение.
type ExperimentAssignment struct {
	// ExperimentKey - ключ эксперимента.
	ExperimentKey string `json:"experimentKey"`

	// StudentID - ученик.
	StudentID observation.StudentID `json:"studentId"`

	// Variant - назначенный вариант.
	Variant Variant `json:"variant"`

	// AssignedAt - момент назначения.
	AssignedAt time.Time `json:"assignedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrOverrideNotFound - поправка для типа детектора не найдена.
	ErrOverrideNotFound = errors.New("threshold override not found")

	// ErrAssignmentNotFound - назначение варианта не найдено.
	ErrAssignmentNotFound = errors.New("experiment assignment not found")

	// ErrUnknownExperiment - неизвестный ключ эксперимента.
	ErrUnknownExperiment = errors.New("unknown experiment key")
)
