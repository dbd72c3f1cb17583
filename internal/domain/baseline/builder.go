package baseline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// BuildInput содержит сырые данные для расчёта базиса одного ученика.
type BuildInput struct {
	StudentID observation.StudentID
	Emotions  []observation.EmotionObservation
	Sensory   []observation.SensoryObservation
	Sessions  []observation.TrackingSession
	Now       time.Time
}

// Build рассчитывает полную запись базиса. Возвращает nil, если не
// выполнено условие достаточности (>=10 сессий И >=7 уникальных дней);
// вызывающая сторона в этом случае не изменяет прежний базис.
// Некорректные отдельные записи исключаются и не прерывают расчёт.
func Build(in BuildInput) *StudentBaseline {
	if !in.StudentID.IsValid() {
		return nil
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	emotions := validEmotions(in.Emotions)
	sensory := validSensory(in.Sensory)

	timestamps := make([]time.Time, 0, len(emotions)+len(sensory))
	for _, o := range emotions {
		timestamps = append(timestamps, o.Timestamp)
	}
	for _, o := range sensory {
		timestamps = append(timestamps, o.Timestamp)
	}

	sessionCount := observation.CountSessions(in.Sessions, timestamps)
	uniqueDays := observation.UniqueDayCount(timestamps)
	if sessionCount < MinSessions || uniqueDays < MinUniqueDays {
		return nil
	}

	b := &StudentBaseline{
		StudentID:         in.StudentID,
		Version:           RecordVersion,
		ComputedAt:        now,
		SessionCount:      sessionCount,
		UniqueDays:        uniqueDays,
		SufficiencyFactor: sufficiencyFactor(sessionCount, uniqueDays),
		Windows:           make(map[int]WindowBaseline, len(WindowWidths)),
	}

	var outlierTotal, outlierRemoved int
	for _, days := range WindowWidths {
		from := now.AddDate(0, 0, -days)
		w := buildWindow(days, from, now, emotions, sensory, in.Sessions)
		b.Windows[days] = w

		// Доля выбросов считается по самому широкому окну.
		if days == WindowWidths[len(WindowWidths)-1] {
			outlierTotal, outlierRemoved = countOutliers(from, now, emotions)
		}
	}

	b.Quality = buildQuality(b.SufficiencyFactor, outlierTotal, outlierRemoved, widestWindowEnvironmentSeries(now, emotions))
	return b
}

func validEmotions(in []observation.EmotionObservation) []observation.EmotionObservation {
	out := make([]observation.EmotionObservation, 0, len(in))
	for _, o := range in {
		if observation.ValidateEmotion(o) != nil {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func validSensory(in []observation.SensoryObservation) []observation.SensoryObservation {
	out := make([]observation.SensoryObservation, 0, len(in))
	for _, o := range in {
		if observation.ValidateSensory(o) != nil {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// sufficiencyFactor нормирует объём выборки: достигает 1 при двукратном
// запасе над минимумами достаточности.
func sufficiencyFactor(sessions, days int) float64 {
	s := math.Min(1, float64(sessions)/float64(2*MinSessions))
	d := math.Min(1, float64(days)/float64(2*MinUniqueDays))
	return stats.Clamp01((s + d) / 2)
}

func buildWindow(
	days int,
	from, to time.Time,
	emotions []observation.EmotionObservation,
	sensory []observation.SensoryObservation,
	sessions []observation.TrackingSession,
) WindowBaseline {
	w := WindowBaseline{
		WindowDays:  days,
		Emotions:    make(map[observation.EmotionCategory]RobustStats),
		Behaviors:   make(map[observation.SensoryBehavior]BehaviorPosterior),
		Environment: make(map[observation.EnvironmentalFactor]FactorStats),
	}

	inWindow := func(t time.Time) bool { return t.After(from) && !t.After(to) }

	// Эмоции: робастная статистика по категориям.
	byCategory := make(map[observation.EmotionCategory][]float64)
	for _, o := range emotions {
		if inWindow(o.Timestamp) {
			byCategory[o.Category] = append(byCategory[o.Category], float64(o.Intensity))
		}
	}
	for cat, values := range byCategory {
		rs, insufficient := robustStatsFor(values)
		w.Emotions[cat] = rs
		if insufficient {
			w.InsufficientKeys = append(w.InsufficientKeys, fmt.Sprintf("emotion:%s", cat))
		}
	}

	// Сенсорное поведение: бета-биномиальный постериор.
	for behavior, counts := range behaviorTrials(from, to, sensory, sessions) {
		post := stats.NewJeffreysPosterior(counts.successes, counts.trials)
		lower, upper := post.CredibleInterval()
		bp := BehaviorPosterior{
			Mean:      post.Mean(),
			Variance:  post.Variance(),
			CrILower:  lower,
			CrIUpper:  upper,
			Trials:    counts.trials,
			Successes: counts.successes,
		}
		if counts.trials == 0 {
			bp.InsufficientData = true
			w.InsufficientKeys = append(w.InsufficientKeys, fmt.Sprintf("behavior:%s", behavior))
		}
		w.Behaviors[behavior] = bp
	}

	// Факторы среды: робастная статистика + корреляция с пиковой
	// эмоциональной интенсивностью той же записи.
	for factor, pairs := range environmentPairs(from, to, emotions) {
		fs, insufficient := factorStatsFor(pairs)
		w.Environment[factor] = fs
		if insufficient {
			w.InsufficientKeys = append(w.InsufficientKeys, fmt.Sprintf("environment:%s", factor))
		}
	}

	sort.Strings(w.InsufficientKeys)
	return w
}

func robustStatsFor(values []float64) (RobustStats, bool) {
	clean, _, _ := stats.FilterOutliers(values)
	if len(clean) == 0 {
		return RobustStats{InsufficientData: true}, true
	}

	med := stats.Median(clean)
	iqr := stats.IQRFromMAD(stats.MAD(clean))
	// Приближённый доверительный интервал медианы (notched boxplot).
	half := 1.57 * iqr / math.Sqrt(float64(len(clean)))

	rs := RobustStats{
		Median:      med,
		IQR:         iqr,
		CILower:     med - half,
		CIUpper:     med + half,
		SampleCount: len(clean),
	}
	if len(clean) >= 2 {
		rs.Trend = stats.Slope(clean)
	}
	return rs, false
}

type trialCounts struct {
	trials    int
	successes int
}

// behaviorTrials строит испытания для каждого типа поведения:
// испытание - одна сессия (либо день, когда сессий нет), успех -
// испытание с высокоинтенсивным проявлением поведения.
func behaviorTrials(
	from, to time.Time,
	sensory []observation.SensoryObservation,
	sessions []observation.TrackingSession,
) map[observation.SensoryBehavior]trialCounts {
	inWindow := func(t time.Time) bool { return t.After(from) && !t.After(to) }

	windowSessions := make(map[string]struct{})
	for _, s := range sessions {
		if inWindow(s.StartedAt) {
			windowSessions[s.ID] = struct{}{}
		}
	}
	useSessions := len(windowSessions) > 0

	behaviors := make(map[observation.SensoryBehavior]map[string]bool)
	trialKeys := make(map[string]struct{})

	for _, o := range sensory {
		if !inWindow(o.Timestamp) {
			continue
		}
		key := o.Timestamp.UTC().Format("2006-01-02")
		if useSessions {
			if _, ok := windowSessions[o.SessionID]; !ok {
				continue
			}
			key = o.SessionID
		}
		trialKeys[key] = struct{}{}
		if behaviors[o.Behavior] == nil {
			behaviors[o.Behavior] = make(map[string]bool)
		}
		if o.Intensity.IsHigh() {
			behaviors[o.Behavior][key] = true
		} else if !behaviors[o.Behavior][key] {
			behaviors[o.Behavior][key] = false
		}
	}

	if useSessions {
		for id := range windowSessions {
			trialKeys[id] = struct{}{}
		}
	}

	out := make(map[observation.SensoryBehavior]trialCounts, len(behaviors))
	for behavior, successByTrial := range behaviors {
		counts := trialCounts{trials: len(trialKeys)}
		for _, high := range successByTrial {
			if high {
				counts.successes++
			}
		}
		out[behavior] = counts
	}
	return out
}

type factorPair struct {
	value     float64
	intensity float64
	at        time.Time
}

// environmentPairs собирает пары (значение фактора, пиковая
// интенсивность записи) по каждому фактору среды. Запись - группа
// наблюдений с одинаковыми сессией и временной меткой.
func environmentPairs(
	from, to time.Time,
	emotions []observation.EmotionObservation,
) map[observation.EnvironmentalFactor][]factorPair {
	type entryKey struct {
		session string
		at      int64
	}

	type entry struct {
		peak    float64
		at      time.Time
		factors map[observation.EnvironmentalFactor]float64
	}

	entries := make(map[entryKey]*entry)
	order := make([]entryKey, 0)

	for _, o := range emotions {
		if !o.Timestamp.After(from) || o.Timestamp.After(to) {
			continue
		}
		key := entryKey{session: o.SessionID, at: o.Timestamp.UnixNano()}
		e, ok := entries[key]
		if !ok {
			e = &entry{at: o.Timestamp, factors: make(map[observation.EnvironmentalFactor]float64)}
			entries[key] = e
			order = append(order, key)
		}
		if float64(o.Intensity) > e.peak {
			e.peak = float64(o.Intensity)
		}
		for factor, value := range o.Environment {
			e.factors[factor] = value
		}
	}

	out := make(map[observation.EnvironmentalFactor][]factorPair)
	for _, key := range order {
		e := entries[key]
		for factor, value := range e.factors {
			out[factor] = append(out[factor], factorPair{value: value, intensity: e.peak, at: e.at})
		}
	}
	return out
}

func factorStatsFor(pairs []factorPair) (FactorStats, bool) {
	values := make([]float64, len(pairs))
	intensities := make([]float64, len(pairs))
	for i, p := range pairs {
		values[i] = p.value
		intensities[i] = p.intensity
	}

	clean, kept, _ := stats.FilterOutliers(values)
	if len(clean) == 0 {
		return FactorStats{InsufficientData: true}, true
	}

	// Корреляция только по выровненному подмножеству без выбросов.
	alignedIntensity := make([]float64, len(kept))
	for i, idx := range kept {
		alignedIntensity[i] = intensities[idx]
	}

	return FactorStats{
		Median:      stats.Median(clean),
		IQR:         stats.IQRFromMAD(stats.MAD(clean)),
		Correlation: stats.Pearson(clean, alignedIntensity),
		SampleCount: len(clean),
	}, false
}

func countOutliers(from, to time.Time, emotions []observation.EmotionObservation) (total, removed int) {
	byCategory := make(map[observation.EmotionCategory][]float64)
	for _, o := range emotions {
		if o.Timestamp.After(from) && !o.Timestamp.After(to) {
			byCategory[o.Category] = append(byCategory[o.Category], float64(o.Intensity))
		}
	}
	for _, values := range byCategory {
		_, _, r := stats.FilterOutliers(values)
		total += len(values)
		removed += r
	}
	return total, removed
}

// widestWindowEnvironmentSeries возвращает репрезентативный ряд среды:
// фактор с наибольшим числом точек в самом широком окне.
func widestWindowEnvironmentSeries(now time.Time, emotions []observation.EmotionObservation) []float64 {
	days := WindowWidths[len(WindowWidths)-1]
	from := now.AddDate(0, 0, -days)

	pairs := environmentPairs(from, now, emotions)
	var best []factorPair
	var bestFactor observation.EnvironmentalFactor
	for factor, ps := range pairs {
		if len(ps) > len(best) || (len(ps) == len(best) && factor < bestFactor) {
			best = ps
			bestFactor = factor
		}
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i].at.Before(best[j].at) })
	values := make([]float64, len(best))
	for i, p := range best {
		values[i] = p.value
	}
	return values
}

func buildQuality(sufficiency float64, outlierTotal, outlierRemoved int, envSeries []float64) *Quality {
	outlierRate := 0.0
	if outlierTotal > 0 {
		outlierRate = float64(outlierRemoved) / float64(outlierTotal)
	}

	// Стабильность: 1 минус нормированная величина сдвига тренда
	// репрезентативного ряда среды.
	stability := 1.0
	if n := len(envSeries); n >= 2 {
		drift := math.Abs(stats.Slope(envSeries)) * float64(n-1)
		min, max := stats.MinMax(envSeries)
		if span := max - min; span > 0 {
			stability = stats.Clamp01(1 - drift/span)
		}
	}

	reliability := stats.Clamp01(sufficiency * (1 - 0.5*outlierRate) * (0.5 + 0.5*stability))
	return &Quality{
		OutlierRate: outlierRate,
		Stability:   stability,
		Reliability: reliability,
	}
}
