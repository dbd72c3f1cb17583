package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT SERVICE
// Липкие назначения: первое обращение пары (эксперимент, ученик) выбирает
// плечо детерминированным хешем и сохраняет его; все последующие запуски
// переиспользуют сохранённое назначение.
// ══════════════════════════════════════════════════════════════════════════════

// ExperimentService resolves sticky experiment arms for a student.
type ExperimentService struct {
	assignments experiment.AssignmentRepository
	definitions []experiment.Definition
	publisher   shared.EventPublisher
	logger      *logger.Logger
}

// NewExperimentService creates an ExperimentService. A nil definitions
// slice falls back to the built-in per-detector threshold experiments.
func NewExperimentService(
	assignments experiment.AssignmentRepository,
	definitions []experiment.Definition,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *ExperimentService {
	if definitions == nil {
		definitions = experiment.DefaultDefinitions()
	}
	if log == nil {
		log = logger.Default()
	}
	return &ExperimentService{
		assignments: assignments,
		definitions: definitions,
		publisher:   publisher,
		logger:      log.With(logger.String("component", "experiment_service")),
	}
}

// ResolveArms returns the student's arm per detector type. A stored
// assignment always wins; otherwise the variant is picked
// deterministically and persisted so later runs see the same arm.
// Storage failures degrade to the control arm for this run instead of
// failing the pipeline.
func (s *ExperimentService) ResolveArms(ctx context.Context, studentID observation.StudentID) map[detection.Type]ArmAssignment {
	arms := make(map[detection.Type]ArmAssignment, len(s.definitions))

	for _, def := range s.definitions {
		variant := s.resolveVariant(ctx, def, studentID)
		arms[def.DetectorType] = ArmAssignment{
			ExperimentKey: def.Key,
			Variant:       variant,
			Arm:           def.Arm(variant),
		}
	}
	return arms
}

func (s *ExperimentService) resolveVariant(ctx context.Context, def experiment.Definition, studentID observation.StudentID) experiment.Variant {
	if s.assignments == nil {
		return def.PickVariant(studentID)
	}

	stored, err := s.assignments.Get(ctx, def.Key, studentID)
	if err == nil {
		return stored.Variant
	}
	if !errors.Is(err, experiment.ErrAssignmentNotFound) {
		s.logger.Warn("experiment assignment lookup failed, using control arm",
			logger.String("experiment_key", def.Key),
			logger.StudentID(studentID.String()),
			logger.Err(err))
		return experiment.VariantControl
	}

	// First assignment: pick and persist.
	variant := def.PickVariant(studentID)
	assignment := experiment.ExperimentAssignment{
		ExperimentKey: def.Key,
		StudentID:     studentID,
		Variant:       variant,
		AssignedAt:    time.Now().UTC(),
	}
	if err := s.assignments.Save(ctx, assignment); err != nil {
		s.logger.Warn("failed to persist experiment assignment",
			logger.String("experiment_key", def.Key),
			logger.StudentID(studentID.String()),
			logger.Err(err))
		return experiment.VariantControl
	}

	if s.publisher != nil {
		_ = s.publisher.Publish(shared.NewVariantAssignedEvent(def.Key, studentID.String(), string(variant)))
	}
	return variant
}
