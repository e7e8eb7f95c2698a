package models

import (
	"strings"
	"time"
)

// Domain models matching the database schema in db/migrations/0001_init.sql

type Stage string

const (
	StageProspect        Stage = "Prospect"
	StageWarmLead        Stage = "Warm Lead"
	StageApplied         Stage = "Applied"
	StageRecruiterScreen Stage = "Recruiter Screen"
	StageHMInterview     Stage = "HM Interview"
	StageLoop            Stage = "Loop"
	StageOfferPending    Stage = "Offer Pending"
	StageClosed          Stage = "Closed"
)

// Stages lists every pipeline stage in forward order.
var Stages = []Stage{
	StageProspect,
	StageWarmLead,
	StageApplied,
	StageRecruiterScreen,
	StageHMInterview,
	StageLoop,
	StageOfferPending,
	StageClosed,
}

// ParseStage resolves user input to a stage. Matching ignores case and treats
// '-' and '_' as spaces, so "hm-interview" resolves to "HM Interview".
func ParseStage(s string) (Stage, bool) {
	norm := normalizeStage(s)
	for _, st := range Stages {
		if normalizeStage(string(st)) == norm {
			return st, true
		}
	}
	return "", false
}

func normalizeStage(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(s))
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Valid reports whether s is exactly one of the canonical stage names.
func (s Stage) Valid() bool { return s.Index() >= 0 }

func (s Stage) IsTerminal() bool { return s == StageClosed }

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

type JobFamily string

const (
	FamilyAnalyticsManager JobFamily = "A"
	FamilyDataManager      JobFamily = "B"
	FamilyBIManager        JobFamily = "C"
	FamilyDecisionScience  JobFamily = "D"
	FamilyDirectorStretch  JobFamily = "E"
)

var JobFamilies = map[JobFamily]string{
	FamilyAnalyticsManager: "Analytics Manager",
	FamilyDataManager:      "Data Manager",
	FamilyBIManager:        "BI Manager",
	FamilyDecisionScience:  "Decision Science",
	FamilyDirectorStretch:  "Director Stretch",
}

func ParseJobFamily(s string) (JobFamily, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", true
	}
	f := JobFamily(s)
	_, ok := JobFamilies[f]
	return f, ok
}

type Opportunity struct {
	ID             int64     `json:"id" db:"id"`
	Company        string    `json:"company" db:"company"`
	Title          string    `json:"title" db:"title"`
	JobFamily      JobFamily `json:"job_family,omitempty" db:"job_family"`
	Tier           int       `json:"tier,omitempty" db:"tier"`
	Stage          Stage     `json:"stage" db:"stage"`
	NextAction     string    `json:"next_action,omitempty" db:"next_action"`
	NextActionDate time.Time `json:"next_action_date" db:"next_action_date"`
	Source         string    `json:"source,omitempty" db:"source"`
	SalaryRange    string    `json:"salary_range,omitempty" db:"salary_range"`
	JDURL          string    `json:"jd_url,omitempty" db:"jd_url"`
	JDText         string    `json:"jd_text,omitempty" db:"jd_text"`
	FitScore       *int      `json:"fit_score,omitempty" db:"fit_score"`
	FitSummary     string    `json:"fit_summary,omitempty" db:"fit_summary"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
}

func (o *Opportunity) IsOpen() bool { return !o.Stage.IsTerminal() }

type ContactRole string

const (
	RoleHM        ContactRole = "HM"
	RoleRecruiter ContactRole = "Recruiter"
	RolePeer      ContactRole = "Peer"
	RoleOther     ContactRole = "Other"
)

func ParseContactRole(s string) (ContactRole, bool) {
	for _, r := range []ContactRole{RoleHM, RoleRecruiter, RolePeer, RoleOther} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, true
		}
	}
	return "", false
}

type ResponseStatus string

const (
	ResponseNone      ResponseStatus = "no-response"
	ResponseResponded ResponseStatus = "responded"
	ResponseDeclined  ResponseStatus = "declined"
)

func ParseResponseStatus(s string) (ResponseStatus, bool) {
	for _, r := range []ResponseStatus{ResponseNone, ResponseResponded, ResponseDeclined} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, true
		}
	}
	return "", false
}

type Contact struct {
	ID              int64          `json:"id" db:"id"`
	OpportunityID   int64          `json:"opportunity_id" db:"opportunity_id"`
	Name            string         `json:"name" db:"name"`
	Role            ContactRole    `json:"role" db:"role"`
	Channel         string         `json:"channel,omitempty" db:"channel"`
	Email           string         `json:"email,omitempty" db:"email"`
	OutreachSentAt  *time.Time     `json:"outreach_sent_at,omitempty" db:"outreach_sent_at"`
	FollowUp3SentAt *time.Time     `json:"followup3_sent_at,omitempty" db:"followup3_sent_at"`
	FollowUp7SentAt *time.Time     `json:"followup7_sent_at,omitempty" db:"followup7_sent_at"`
	Response        ResponseStatus `json:"response" db:"response"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

type ActivityKind string

const (
	KindCreated          ActivityKind = "created"
	KindStageChange      ActivityKind = "stage-change"
	KindContactAdded     ActivityKind = "contact-added"
	KindOutreachSent     ActivityKind = "outreach-sent"
	KindFollowUpSent     ActivityKind = "followup-sent"
	KindResponseRecorded ActivityKind = "response-recorded"
	KindNote             ActivityKind = "note"
	KindScoreRecorded    ActivityKind = "score-recorded"
	KindDigestGenerated  ActivityKind = "digest-generated"
)

// Activity is one entry of the append-only audit trail.
type Activity struct {
	ID            int64             `json:"id" db:"id"`
	OpportunityID int64             `json:"opportunity_id" db:"opportunity_id"`
	ContactID     *int64            `json:"contact_id,omitempty" db:"contact_id"`
	Kind          ActivityKind      `json:"kind" db:"kind"`
	Detail        string            `json:"detail" db:"detail"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"metadata"`
	Timestamp     time.Time         `json:"timestamp" db:"timestamp"`
}

// OpportunityFilter narrows ListOpportunities. Zero values mean "any".
type OpportunityFilter struct {
	Stage         Stage
	Tier          int
	JobFamily     JobFamily
	ExcludeClosed bool
	Unscored      bool
}
