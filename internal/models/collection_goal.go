package models

import (
	"time"

	"github.com/google/uuid"
)

// CollectionStage is the ordered position of a goal in the recovery workflow.
type CollectionStage string

const (
	StageReminderDay1       CollectionStage = "REMINDER_DAY_1"
	StageReminderDay2       CollectionStage = "REMINDER_DAY_2"
	StageClientCall         CollectionStage = "CLIENT_CALL"
	StageGuarantorCall      CollectionStage = "GUARANTOR_CALL"
	StageFieldVisit         CollectionStage = "FIELD_VISIT"
	StageSecurityEscalation CollectionStage = "SECURITY_ESCALATION"
	StageClosed             CollectionStage = "CLOSED"
)

var stageRank = map[CollectionStage]int{
	StageReminderDay1:       1,
	StageReminderDay2:       2,
	StageClientCall:         3,
	StageGuarantorCall:      4,
	StageFieldVisit:         5,
	StageSecurityEscalation: 6,
	StageClosed:             7,
}

// ParseCollectionStage validates a raw stage name.
func ParseCollectionStage(s string) (CollectionStage, error) {
	v := CollectionStage(s)
	if _, ok := stageRank[v]; !ok {
		return "", ValidationError("invalid collection stage %q", s)
	}
	return v, nil
}

func (s *CollectionStage) UnmarshalText(b []byte) error {
	v, err := ParseCollectionStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Rank orders stages; unknown stages rank 0.
func (s CollectionStage) Rank() int { return stageRank[s] }

// After reports whether s is strictly later than other.
func (s CollectionStage) After(other CollectionStage) bool { return s.Rank() > other.Rank() }

// GoalType is the kind of work a collection goal asks for.
type GoalType string

const (
	GoalClientCall    GoalType = "CLIENT_CALL"
	GoalGuarantorCall GoalType = "GUARANTOR_CALL"
	GoalFieldVisit    GoalType = "FIELD_VISIT"
	GoalLegalNotice   GoalType = "LEGAL_NOTICE"
)

// Priority of a collection goal.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// AssigneeGroup is the team a goal is routed to.
type AssigneeGroup string

const (
	GroupNotifications AssigneeGroup = "NOTIFICATIONS"
	GroupCallCenter    AssigneeGroup = "CALL_CENTER"
	GroupFieldAgents   AssigneeGroup = "FIELD_AGENTS"
	GroupSecurity      AssigneeGroup = "SECURITY"
)

// PriorityFor derives the goal priority from its stage.
func PriorityFor(stage CollectionStage) Priority {
	switch stage {
	case StageClientCall:
		return PriorityMedium
	case StageGuarantorCall, StageFieldVisit:
		return PriorityHigh
	case StageSecurityEscalation:
		return PriorityCritical
	default:
		return PriorityLow
	}
}

// GoalTypeFor derives the goal type from its stage.
func GoalTypeFor(stage CollectionStage) GoalType {
	switch stage {
	case StageGuarantorCall:
		return GoalGuarantorCall
	case StageFieldVisit:
		return GoalFieldVisit
	case StageSecurityEscalation:
		return GoalLegalNotice
	default:
		return GoalClientCall
	}
}

// DefaultAssigneeGroup is used when the collection settings name no group for a stage.
func DefaultAssigneeGroup(stage CollectionStage) AssigneeGroup {
	switch stage {
	case StageReminderDay1, StageReminderDay2:
		return GroupNotifications
	case StageClientCall, StageGuarantorCall:
		return GroupCallCenter
	case StageFieldVisit:
		return GroupFieldAgents
	default:
		return GroupSecurity
	}
}

// CollectionGoal is the active recovery task for one overdue installment.
type CollectionGoal struct {
	ID            string          `json:"id"`
	Type          GoalType        `json:"type"`
	Stage         CollectionStage `json:"stage"`
	Priority      Priority        `json:"priority"`
	DealAid       string          `json:"deal_aid"`
	FinanceFaid   string          `json:"finance_faid"`
	OverdueDays   int             `json:"overdue_days"`
	AssigneeGroup AssigneeGroup   `json:"assignee_group"`
	Deadline      time.Time       `json:"deadline"`
	AutoCreated   bool            `json:"auto_created"`
	ClosedReason  string          `json:"closed_reason,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewCollectionGoal opens an auto-created goal at stage.
func NewCollectionGoal(dealAid, financeFaid string, stage CollectionStage, overdueDays int,
	group AssigneeGroup, deadline, now time.Time) CollectionGoal {
	return CollectionGoal{
		ID:            uuid.New().String(),
		Type:          GoalTypeFor(stage),
		Stage:         stage,
		Priority:      PriorityFor(stage),
		DealAid:       dealAid,
		FinanceFaid:   financeFaid,
		OverdueDays:   overdueDays,
		AssigneeGroup: group,
		Deadline:      deadline,
		AutoCreated:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Open reports whether the goal still needs work.
func (g CollectionGoal) Open() bool { return g.Stage != StageClosed }

// Advance moves the goal forward to stage. It returns false when stage is not
// strictly later than the current one; goals never move backwards.
func (g *CollectionGoal) Advance(stage CollectionStage, overdueDays int, group AssigneeGroup, deadline, now time.Time) bool {
	if !g.Open() || stage == StageClosed || !stage.After(g.Stage) {
		return false
	}
	g.Stage = stage
	g.Type = GoalTypeFor(stage)
	g.Priority = PriorityFor(stage)
	g.OverdueDays = overdueDays
	g.AssigneeGroup = group
	g.Deadline = deadline
	g.UpdatedAt = now
	return true
}

// Close moves an open goal to CLOSED.
func (g *CollectionGoal) Close(reason string, now time.Time) error {
	if !g.Open() {
		return ValidationError("collection goal %s is already closed", g.ID)
	}
	g.Stage = StageClosed
	g.ClosedReason = reason
	g.UpdatedAt = now
	return nil
}

// ParseGoalType validates a raw goal type.
func ParseGoalType(s string) (GoalType, error) {
	switch v := GoalType(s); v {
	case GoalClientCall, GoalGuarantorCall, GoalFieldVisit, GoalLegalNotice:
		return v, nil
	}
	return "", ValidationError("invalid goal type %q", s)
}

// ParsePriority validates a raw priority.
func ParsePriority(s string) (Priority, error) {
	switch v := Priority(s); v {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return v, nil
	}
	return "", ValidationError("invalid priority %q", s)
}

// ParseAssigneeGroup validates a raw assignee group.
func ParseAssigneeGroup(s string) (AssigneeGroup, error) {
	switch v := AssigneeGroup(s); v {
	case GroupNotifications, GroupCallCenter, GroupFieldAgents, GroupSecurity:
		return v, nil
	}
	return "", ValidationError("invalid assignee group %q", s)
}

func (g *AssigneeGroup) UnmarshalText(b []byte) error {
	v, err := ParseAssigneeGroup(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
