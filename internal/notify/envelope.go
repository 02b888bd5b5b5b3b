package notify

import (
	"time"

	"ecatalog/internal/model"
)

// Envelope is the live-channel message frame. The domain payload key varies
// with Type and carries a denormalized snapshot of the triggering record so
// clients need no follow-up fetch.
type Envelope struct {
	Type         string               `json:"type"`
	Event        string               `json:"event"`
	Notification NotificationPayload  `json:"notification"`
	Grade        *GradePayload        `json:"grade,omitempty"`
	Homework     *HomeworkPayload     `json:"homework,omitempty"`
	Attendance   *AttendancePayload   `json:"attendance,omitempty"`
	Announcement *AnnouncementPayload `json:"announcement,omitempty"`
}

type NotificationPayload struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
	IsRead           bool   `json:"is_read"`
	CreatedAt        string `json:"created_at,omitempty"`
	UserID           string `json:"user_id"`
}

type GradePayload struct {
	ID          string `json:"id"`
	Value       int    `json:"value"`
	Type        string `json:"type"`
	SubjectID   string `json:"subject_id,omitempty"`
	SubjectName string `json:"subject_name,omitempty"`
	StudentID   string `json:"student_id"`
	TeacherID   string `json:"teacher_id"`
}

type HomeworkPayload struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        *string  `json:"description,omitempty"`
	DueDate            *string  `json:"due_date,omitempty"`
	SubjectID          *string  `json:"subject_id,omitempty"`
	ClassID            string   `json:"class_id"`
	TeacherID          string   `json:"teacher_id"`
	AssignedStudentIDs []string `json:"assigned_student_ids,omitempty"`
	IsPersonal         bool     `json:"is_personal"`
}

type AttendancePayload struct {
	ID             string  `json:"id"`
	AttendanceDate string  `json:"attendance_date"`
	Status         string  `json:"status"`
	Notes          *string `json:"notes,omitempty"`
	StudentID      string  `json:"student_id"`
	TeacherID      string  `json:"teacher_id"`
	SubjectID      *string `json:"subject_id,omitempty"`
}

type AnnouncementPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Event names the domain occurrence behind a push; exactly one snapshot
// field should be set, matching Type.
type Event struct {
	Type         string
	Event        string
	Grade        *GradePayload
	Homework     *HomeworkPayload
	Attendance   *AttendancePayload
	Announcement *AnnouncementPayload
}

func newEnvelope(n model.Notification, event Event) Envelope {
	payload := NotificationPayload{
		ID:               n.ID,
		Title:            n.Title,
		Message:          n.Message,
		NotificationType: string(n.Type),
		IsRead:           n.IsRead,
		UserID:           n.UserID,
	}
	if !n.CreatedAt.IsZero() {
		payload.CreatedAt = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	return Envelope{
		Type:         event.Type,
		Event:        event.Event,
		Notification: payload,
		Grade:        event.Grade,
		Homework:     event.Homework,
		Attendance:   event.Attendance,
		Announcement: event.Announcement,
	}
}
