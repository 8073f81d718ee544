package domain

import "strings"

// StageType identifies a step of the content pipeline. Stages run in a
// fixed order from planning to platform polish.
type StageType string

const (
	StagePlan      StageType = "plan"
	StageStructure StageType = "structure"
	StageDraft     StageType = "draft"
	StageQuality   StageType = "quality"
	StagePlatform  StageType = "platform"
)

var stageOrder = map[StageType]int{
	StagePlan:      0,
	StageStructure: 1,
	StageDraft:     2,
	StageQuality:   3,
	StagePlatform:  4,
}

// StageTypes lists the pipeline stages in execution order.
func StageTypes() []StageType {
	return []StageType{StagePlan, StageStructure, StageDraft, StageQuality, StagePlatform}
}

// NormalizeStageType maps free-form input to a canonical stage type.
// Unknown input normalizes to the empty stage.
func NormalizeStageType(value string) StageType {
	s := StageType(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageOrder[s]; !ok {
		return ""
	}
	return s
}

func (s StageType) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the stage's position in the pipeline, starting at zero.
// Unknown stages sort after every known one.
func (s StageType) Order() int {
	order, ok := stageOrder[s]
	if !ok {
		return len(stageOrder)
	}
	return order
}

// Preceding returns the stage that must have succeeded before s may run,
// and false when s is the first stage.
func (s StageType) Preceding() (StageType, bool) {
	order, ok := stageOrder[s]
	if !ok || order == 0 {
		return "", false
	}
	for candidate, o := range stageOrder {
		if o == order-1 {
			return candidate, true
		}
	}
	return "", false
}
