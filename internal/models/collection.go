package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Collection records one bin pickup. Immutable once created.
type Collection struct {
	ID        string  `json:"id"`
	BinID     string  `json:"binId" validate:"required"`
	DriverID  string  `json:"driverId" validate:"required"`
	Timestamp string  `json:"timestamp"`
	Weight    float64 `json:"weight" validate:"gte=0"`
}

func (c Collection) EntityID() string { return c.ID }

func (c Collection) Stamp() string { return c.Timestamp }

func (c Collection) VolatileFields() string {
	return fmt.Sprintf("%s|%s", strconv.FormatFloat(c.Weight, 'f', -1, 64), c.BinID)
}

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Issue is a problem reported from the field (vehicle, bin, road). Immutable.
type Issue struct {
	ID          string `json:"id"`
	DriverID    string `json:"driverId" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (i Issue) EntityID() string { return i.ID }

func (i Issue) Stamp() string { return i.Timestamp }

func (i Issue) VolatileFields() string { return i.Status + "|" + i.Priority }

// Alert is raised for managers, currently only from issues
type Alert struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Message   string `json:"message"`
	DriverID  string `json:"driverId,omitempty"`
	IssueID   string `json:"issueId,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (a Alert) EntityID() string { return a.ID }

func (a Alert) Stamp() string { return a.Timestamp }

func (a Alert) VolatileFields() string { return a.Priority }

// AlertForIssue builds the manager alert for a reported issue. Critical
// issues keep their priority, everything else is raised as high. The alert ID
// is derived from the issue so a client and the server raise the same alert.
func AlertForIssue(issue Issue, driverName string) Alert {
	priority := PriorityHigh
	if issue.Priority == PriorityCritical {
		priority = PriorityCritical
	}
	who := driverName
	if who == "" {
		who = issue.DriverID
	}
	msg := fmt.Sprintf("%s reported %s issue", who, strings.ReplaceAll(issue.Type, "_", " "))
	if issue.Description != "" {
		msg += ": " + issue.Description
	}
	return Alert{
		ID:        "alert-" + issue.ID,
		Type:      "issue",
		Priority:  priority,
		Message:   msg,
		DriverID:  issue.DriverID,
		IssueID:   issue.ID,
		Timestamp: issue.Timestamp,
	}
}
