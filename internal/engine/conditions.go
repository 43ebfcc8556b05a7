package engine

import (
	"strings"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

// ConditionSet is the compiled form of the detection config used per frame.
type ConditionSet struct {
	Names    []string
	Policies map[string]Policy
	floor    float64
	aliases  map[string]string
	subjects map[string]struct{}
}

func buildConditionSet(d config.DetectionConfig) *ConditionSet {
	cs := &ConditionSet{
		Names:    make([]string, 0, len(d.Conditions)),
		Policies: make(map[string]Policy, len(d.Conditions)),
		floor:    d.ConfidenceFloor,
		aliases:  make(map[string]string, len(d.Aliases)),
		subjects: make(map[string]struct{}, len(d.SubjectLabels)),
	}
	for from, to := range d.Aliases {
		from = normalizeLabel(from)
		to = normalizeLabel(to)
		if from == "" || to == "" {
			continue
		}
		cs.aliases[from] = to
	}
	for _, s := range d.SubjectLabels {
		if label := cs.canonical(s); label != "" {
			cs.subjects[label] = struct{}{}
		}
	}
	for _, c := range d.Conditions {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		p := Policy{Threshold: d.AlertThreshold, ResetInterval: d.ResetInterval}
		if c.AlertThreshold > 0 {
			p.Threshold = c.AlertThreshold
		}
		if c.ResetInterval > 0 {
			p.ResetInterval = c.ResetInterval
		}
		cs.Names = append(cs.Names, name)
		cs.Policies[name] = p
	}
	return cs
}

// Derive maps raw detections to the set of condition labels present in the
// frame. Detections below the confidence floor, or without a comparable
// confidence, are ignored.
func (cs *ConditionSet) Derive(dets []model.Detection) map[string]struct{} {
	present := make(map[string]struct{}, len(dets)+1)
	subjects := 0
	for _, d := range dets {
		if !(d.Confidence >= cs.floor) {
			continue
		}
		label := cs.canonical(d.Label)
		if label == "" {
			continue
		}
		if _, ok := cs.subjects[label]; ok {
			subjects++
		}
		present[label] = struct{}{}
	}
	if subjects == 0 {
		present[model.ConditionPersonAbsent] = struct{}{}
	}
	if subjects >= 2 {
		present[model.ConditionMultiplePerson] = struct{}{}
	}
	return present
}

func (cs *ConditionSet) canonical(label string) string {
	label = normalizeLabel(label)
	if to, ok := cs.aliases[label]; ok {
		return to
	}
	return label
}

// DeriveConditions is Derive for a one-off detection config.
func DeriveConditions(dets []model.Detection, d config.DetectionConfig) map[string]struct{} {
	return buildConditionSet(d).Derive(dets)
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(label, " ", "_")
}
