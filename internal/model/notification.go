package model

import "time"

// Category is the server's notification type tag.
type Category string

const (
	CategoryLogbookSubmitted   Category = "logbook_submitted"
	CategoryLogbookApproved    Category = "logbook_approved"
	CategoryLogbookRejected    Category = "logbook_rejected"
	CategoryCommentAdded       Category = "comment_added"
	CategoryLeaveRequested     Category = "leave_requested"
	CategoryLeaveApproved      Category = "leave_approved"
	CategoryLeaveRejected      Category = "leave_rejected"
	CategorySupervisorAssigned Category = "supervisor_assigned"
	CategoryMilestoneDue       Category = "milestone_due"
	CategorySystem             Category = "system"
)

// Label returns a short human-readable label for the category.
func (c Category) Label() string {
	switch c {
	case CategoryLogbookSubmitted:
		return "submitted"
	case CategoryLogbookApproved:
		return "approved"
	case CategoryLogbookRejected:
		return "rejected"
	case CategoryCommentAdded:
		return "comment"
	case CategoryLeaveRequested:
		return "leave"
	case CategoryLeaveApproved:
		return "leave ok"
	case CategoryLeaveRejected:
		return "leave no"
	case CategorySupervisorAssigned:
		return "supervisor"
	case CategoryMilestoneDue:
		return "milestone"
	case CategorySystem:
		return "system"
	default:
		return string(c)
	}
}

// Notification is a single inbound event addressed to the signed-in user.
type Notification struct {
	// ID is assigned by the server and is stable across deliveries.
	ID int64 `json:"id" db:"id"`

	Title string `json:"title" db:"title"`

	// Body is the notification text.
	Body string `json:"message" db:"body"`

	Category Category `json:"notification_type" db:"category"`

	// Actor is the display name of whoever triggered the event.
	Actor string `json:"actor_name,omitempty" db:"actor"`

	// LinkType and LinkID point at the related object (e.g. a logbook
	// entry). Both are empty when there is no related object.
	LinkType string `json:"related_object_type,omitempty" db:"link_type"`
	LinkID   int64  `json:"related_object_id,omitempty" db:"link_id"`

	Read bool `json:"is_read" db:"read"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasLink reports whether the notification references a related object.
func (n Notification) HasLink() bool {
	return n.LinkType != "" && n.LinkID != 0
}

// Stats is the server-side summary returned by the stats endpoint.
type Stats struct {
	Total  int              `json:"total"`
	Unread int              `json:"unread"`
	ByType map[Category]int `json:"by_type,omitempty"`
}
