package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecatalog/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Users

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, role, is_activated, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActivated,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, role, is_activated, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActivated,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// ActivateUser sets the password on first login and flips the account to
// activated.
func (s *Store) ActivateUser(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, is_activated = true, updated_at = NOW()
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListStudentUserIDs returns every student account id, used for school-wide
// announcements.
func (s *Store) ListStudentUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM students`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListClassStudentUserIDs resolves the enrolled students of a class, the
// recipient set for class-wide homework.
func (s *Store) ListClassStudentUserIDs(ctx context.Context, classID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM students WHERE class_id = $1`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) GetSubjectName(ctx context.Context, subjectID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM subjects WHERE id = $1`, subjectID).Scan(&name)
	return name, err
}

func (s *Store) GetClassName(ctx context.Context, classID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM classes WHERE id = $1`, classID).Scan(&name)
	return name, err
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, input model.Notification) (model.Notification, error) {
	input.ID = uuid.NewString()
	input.IsRead = false
	input.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, title, message, notification_type, is_read, created_at, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, input.ID, input.Title, input.Message, input.Type, input.IsRead, input.CreatedAt, input.UserID)
	if err != nil {
		return model.Notification{}, err
	}
	return input, nil
}

func (s *Store) GetNotification(ctx context.Context, notificationID string) (model.Notification, error) {
	var n model.Notification
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, message, notification_type, is_read, created_at, user_id
		FROM notifications
		WHERE id = $1
	`, notificationID)
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt, &n.UserID)
	return n, err
}

func (s *Store) ListUserNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, message, notification_type, is_read, created_at, user_id
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt, &n.UserID); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, notificationID string) (model.Notification, error) {
	var n model.Notification
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1
		RETURNING id, title, message, notification_type, is_read, created_at, user_id
	`, notificationID)
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt, &n.UserID)
	return n, err
}

func (s *Store) DeleteNotification(ctx context.Context, notificationID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Domain writes

func (s *Store) CreateGrade(ctx context.Context, grade model.Grade) (model.Grade, error) {
	grade.ID = uuid.NewString()
	grade.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO grades (id, value, types, student_id, teacher_id, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, grade.ID, grade.Value, grade.Type, grade.StudentID, grade.TeacherID, grade.SubjectID, grade.CreatedAt)
	if err != nil {
		return model.Grade{}, err
	}
	return grade, nil
}

func (s *Store) CreateHomework(ctx context.Context, homework model.Homework) (model.Homework, error) {
	homework.ID = uuid.NewString()
	homework.CreatedAt = time.Now().UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Homework{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO homework (id, title, description, due_date, class_id, subject_id, teacher_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, homework.ID, homework.Title, homework.Description, homework.DueDate, homework.ClassID, homework.SubjectID, homework.TeacherID, homework.CreatedAt)
	if err != nil {
		return model.Homework{}, err
	}
	for _, studentID := range homework.AssignedStudentIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO homework_assignments (homework_id, student_id)
			VALUES ($1, $2)
		`, homework.ID, studentID)
		if err != nil {
			return model.Homework{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Homework{}, err
	}
	return homework, nil
}

func (s *Store) CreateAttendance(ctx context.Context, attendance model.Attendance) (model.Attendance, error) {
	attendance.ID = uuid.NewString()
	attendance.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (id, attendance_date, status, notes, student_id, teacher_id, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, attendance.ID, attendance.AttendanceDate, attendance.Status, attendance.Notes, attendance.StudentID, attendance.TeacherID, attendance.SubjectID, attendance.CreatedAt)
	if err != nil {
		return model.Attendance{}, err
	}
	return attendance, nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
