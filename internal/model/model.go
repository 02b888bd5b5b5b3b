package model

import "time"

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         UserRole
	IsActivated  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NotificationType string

const (
	NotificationNewGrade       NotificationType = "new_grade"
	NotificationNewHomework    NotificationType = "new_homework"
	NotificationAnnouncement   NotificationType = "announcement"
	NotificationScheduleChange NotificationType = "schedule_change"
	NotificationAttendance     NotificationType = "attendance"
	NotificationMessage        NotificationType = "message"
	NotificationOther          NotificationType = "other"
)

// Notification is owned by its recipient: created by the dispatcher,
// mutated only by mark-read, deleted only by the recipient.
type Notification struct {
	ID        string
	Title     string
	Message   string
	Type      NotificationType
	IsRead    bool
	CreatedAt time.Time
	UserID    string
}

type Grade struct {
	ID        string
	Value     int
	Type      string
	StudentID string
	TeacherID string
	SubjectID string
	CreatedAt time.Time
}

type Homework struct {
	ID                 string
	Title              string
	Description        *string
	DueDate            *time.Time
	ClassID            string
	SubjectID          *string
	TeacherID          string
	AssignedStudentIDs []string
	CreatedAt          time.Time
}

type Attendance struct {
	ID             string
	AttendanceDate time.Time
	Status         string
	Notes          *string
	StudentID      string
	TeacherID      string
	SubjectID      *string
	CreatedAt      time.Time
}
