package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ecatalog/internal/auth"
	"ecatalog/internal/config"
	"ecatalog/internal/crypto"
	"ecatalog/internal/model"
	"ecatalog/internal/notify"
	obsmw "ecatalog/internal/observability/middleware"
	"ecatalog/internal/ws"
)

// Store is the slice of the repository the HTTP layer depends on.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	ActivateUser(ctx context.Context, userID, passwordHash string) error
	ListStudentUserIDs(ctx context.Context) ([]string, error)
	ListClassStudentUserIDs(ctx context.Context, classID string) ([]string, error)
	GetSubjectName(ctx context.Context, subjectID string) (string, error)
	GetClassName(ctx context.Context, classID string) (string, error)
	GetNotification(ctx context.Context, notificationID string) (model.Notification, error)
	ListUserNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) (model.Notification, error)
	DeleteNotification(ctx context.Context, notificationID string) error
	CreateGrade(ctx context.Context, grade model.Grade) (model.Grade, error)
	CreateHomework(ctx context.Context, homework model.Homework) (model.Homework, error)
	CreateAttendance(ctx context.Context, attendance model.Attendance) (model.Attendance, error)
}

type Server struct {
	cfg        config.Config
	store      Store
	tokens     *auth.Manager
	registry   *ws.Registry
	dispatcher *notify.Dispatcher
	wsHandler  *ws.Handler
}

func NewServer(cfg config.Config, store Store, tokens *auth.Manager, registry *ws.Registry, dispatcher *notify.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		registry:   registry,
		dispatcher: dispatcher,
		wsHandler:  ws.NewHandler(registry, tokens),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMinute, time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(obsmw.WithMetrics)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.Get("/ws", s.wsHandler.ServeWS)
	r.With(s.authMiddleware).Get("/ws/online", s.handleGetOnline)

	r.With(s.authMiddleware, s.requireTeacherOrAdmin).Post("/grades", s.handleCreateGrade)
	r.With(s.authMiddleware, s.requireTeacherOrAdmin).Post("/homework", s.handleCreateHomework)
	r.With(s.authMiddleware, s.requireTeacherOrAdmin).Post("/attendance", s.handleCreateAttendance)
	r.With(s.authMiddleware, s.requireAdmin).Post("/announcements", s.handleCreateAnnouncement)
	r.With(s.authMiddleware, s.requireAdmin).Post("/announcements/system", s.handleSystemAnnouncement)

	r.Route("/notifications", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireAdmin).Post("/", s.handleCreateNotification)
		r.Get("/my", s.handleGetMyNotifications)
		r.Put("/{notificationId}/read", s.handleMarkNotificationRead)
		r.Delete("/{notificationId}", s.handleDeleteNotification)
	})

	return r
}

// Auth

type claimsKey struct{}

type requestClaims struct {
	UserID string
	Role   string
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		userID, role, err := s.tokens.VerifyAccess(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, authErrorCode(err))
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, &requestClaims{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *requestClaims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*requestClaims)
	return claims
}

func (s *Server) requireTeacherOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || (claims.Role != string(model.RoleTeacher) && claims.Role != string(model.RoleAdmin)) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.Role != string(model.RoleAdmin) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrRevoked):
		return "token_revoked"
	case errors.Is(err, auth.ErrWrongKind):
		return "wrong_token_kind"
	default:
		return "invalid_token"
	}
}

// Auth handlers

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	IsActivated bool   `json:"isActivated"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if !user.IsActivated {
		// First login activates the account with the supplied password.
		if req.Password == "" {
			writeError(w, http.StatusBadRequest, "account_not_activated")
			return
		}
		hash, err := crypto.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if err := s.store.ActivateUser(r.Context(), user.ID, hash); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		user.IsActivated = true
		user.PasswordHash = hash
	} else if req.Password == "" || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	accessToken, err := s.tokens.IssueAccessToken(user.ID, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	refreshToken, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         mapUserSummary(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	userID, err := s.tokens.VerifyRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authErrorCode(err))
		return
	}

	// The role embedded in the new access token is re-read from storage, so
	// a role change takes effect at rotation rather than sticking around for
	// the life of the session.
	role := ""
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err == nil {
		role = string(user.Role)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.tokens.Rotate(r.Context(), req.RefreshToken, role)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authErrorCode(err))
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         mapUserSummary(user),
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		_ = decodeJSON(r, &req)
	}
	s.tokens.Logout(r.Context(), bearerToken(r.Header.Get("Authorization")), req.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapUserSummary(user))
}

func (s *Server) handleGetOnline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"online_count": s.registry.ConnectionCount(),
		"users_online": len(s.registry.OnlineUsers()),
	})
}

// Grades

type createGradeRequest struct {
	Value     int    `json:"value"`
	Type      string `json:"type"`
	StudentID string `json:"studentId"`
	SubjectID string `json:"subjectId"`
}

type gradeResponse struct {
	ID        string `json:"id"`
	Value     int    `json:"value"`
	Type      string `json:"type"`
	StudentID string `json:"studentId"`
	TeacherID string `json:"teacherId"`
	SubjectID string `json:"subjectId"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleCreateGrade(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createGradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentID == "" || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.Value < 2 || req.Value > 10 {
		writeError(w, http.StatusBadRequest, "grade_out_of_range")
		return
	}
	gradeType, err := normalizeGradeType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grade_type")
		return
	}

	grade, err := s.store.CreateGrade(r.Context(), model.Grade{
		Value:     req.Value,
		Type:      gradeType,
		StudentID: req.StudentID,
		TeacherID: claims.UserID,
		SubjectID: req.SubjectID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	subjectName, err := s.store.GetSubjectName(r.Context(), grade.SubjectID)
	if err != nil {
		subjectName = ""
	}
	title := "New grade"
	message := fmt.Sprintf("You received a %d", grade.Value)
	if subjectName != "" {
		message += " at " + subjectName
	}
	message += "."

	_, err = s.dispatcher.CreateAndPush(r.Context(), notify.Input{
		Title:   title,
		Message: message,
		Type:    model.NotificationNewGrade,
		UserID:  grade.StudentID,
	}, notify.Event{
		Type:  "grade",
		Event: "created",
		Grade: &notify.GradePayload{
			ID:          grade.ID,
			Value:       grade.Value,
			Type:        grade.Type,
			SubjectID:   grade.SubjectID,
			SubjectName: subjectName,
			StudentID:   grade.StudentID,
			TeacherID:   grade.TeacherID,
		},
	})
	if err != nil {
		// The grade is already committed; notifying is a decoupled
		// post-commit step.
		slog.Error("grade notification failed", "grade_id", grade.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, gradeResponse{
		ID:        grade.ID,
		Value:     grade.Value,
		Type:      grade.Type,
		StudentID: grade.StudentID,
		TeacherID: grade.TeacherID,
		SubjectID: grade.SubjectID,
		CreatedAt: grade.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Homework

type createHomeworkRequest struct {
	Title              string   `json:"title"`
	Description        *string  `json:"description,omitempty"`
	DueDate            *string  `json:"dueDate,omitempty"`
	ClassID            string   `json:"classId"`
	SubjectID          *string  `json:"subjectId,omitempty"`
	AssignedStudentIDs []string `json:"assignedStudentIds,omitempty"`
}

type homeworkResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        *string  `json:"description,omitempty"`
	DueDate            *string  `json:"dueDate,omitempty"`
	ClassID            string   `json:"classId"`
	SubjectID          *string  `json:"subjectId,omitempty"`
	TeacherID          string   `json:"teacherId"`
	AssignedStudentIDs []string `json:"assignedStudentIds"`
	IsPersonal         bool     `json:"isPersonal"`
	CreatedAt          string   `json:"createdAt"`
}

func (s *Server) handleCreateHomework(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createHomeworkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.ClassID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	var dueDate *time.Time
	if req.DueDate != nil {
		parsed, err := parseDate(*req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_due_date")
			return
		}
		dueDate = &parsed
	}

	homework, err := s.store.CreateHomework(r.Context(), model.Homework{
		Title:              req.Title,
		Description:        req.Description,
		DueDate:            dueDate,
		ClassID:            req.ClassID,
		SubjectID:          req.SubjectID,
		TeacherID:          claims.UserID,
		AssignedStudentIDs: req.AssignedStudentIDs,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.notifyHomework(r.Context(), homework)

	writeJSON(w, http.StatusCreated, mapHomeworkResponse(homework))
}

// notifyHomework resolves the recipient set once: explicitly assigned
// students for a personal homework, the full class roster otherwise.
func (s *Server) notifyHomework(ctx context.Context, homework model.Homework) {
	recipients := homework.AssignedStudentIDs
	className := ""
	if len(recipients) == 0 {
		roster, err := s.store.ListClassStudentUserIDs(ctx, homework.ClassID)
		if err != nil {
			slog.Error("homework roster lookup failed", "homework_id", homework.ID, "error", err)
			return
		}
		recipients = roster
		if name, err := s.store.GetClassName(ctx, homework.ClassID); err == nil {
			className = name
		}
	}
	if len(recipients) == 0 {
		return
	}

	subjectName := ""
	if homework.SubjectID != nil {
		if name, err := s.store.GetSubjectName(ctx, *homework.SubjectID); err == nil {
			subjectName = name
		}
	}

	title := "New homework"
	parts := []string{}
	if len(homework.AssignedStudentIDs) > 0 {
		parts = append(parts, "You received a personal homework")
	} else {
		parts = append(parts, "A homework was published for your class")
	}
	parts = append(parts, fmt.Sprintf("%q", homework.Title))
	if subjectName != "" {
		parts = append(parts, "at "+subjectName)
	}
	if className != "" {
		parts = append(parts, "(class "+className+")")
	}
	if homework.DueDate != nil {
		parts = append(parts, "due "+homework.DueDate.UTC().Format("2006-01-02"))
	}
	message := strings.Join(parts, ". ") + "."

	var dueDate *string
	if homework.DueDate != nil {
		formatted := homework.DueDate.UTC().Format(time.RFC3339)
		dueDate = &formatted
	}
	_, err := s.dispatcher.CreateAndPushMany(ctx, recipients, notify.Input{
		Title:   title,
		Message: message,
		Type:    model.NotificationNewHomework,
	}, notify.Event{
		Type:  "homework",
		Event: "created",
		Homework: &notify.HomeworkPayload{
			ID:                 homework.ID,
			Title:              homework.Title,
			Description:        homework.Description,
			DueDate:            dueDate,
			SubjectID:          homework.SubjectID,
			ClassID:            homework.ClassID,
			TeacherID:          homework.TeacherID,
			AssignedStudentIDs: homework.AssignedStudentIDs,
			IsPersonal:         len(homework.AssignedStudentIDs) > 0,
		},
	})
	if err != nil {
		slog.Error("homework notification failed", "homework_id", homework.ID, "error", err)
	}
}

// Attendance

type createAttendanceRequest struct {
	AttendanceDate string  `json:"attendanceDate"`
	Status         string  `json:"status"`
	Notes          *string `json:"notes,omitempty"`
	StudentID      string  `json:"studentId"`
	SubjectID      *string `json:"subjectId,omitempty"`
}

type attendanceResponse struct {
	ID             string  `json:"id"`
	AttendanceDate string  `json:"attendanceDate"`
	Status         string  `json:"status"`
	Notes          *string `json:"notes,omitempty"`
	StudentID      string  `json:"studentId"`
	TeacherID      string  `json:"teacherId"`
	SubjectID      *string `json:"subjectId,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func (s *Server) handleCreateAttendance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createAttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentID == "" || req.AttendanceDate == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	status, err := normalizeAttendanceStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	attendanceDate, err := parseDate(req.AttendanceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	attendance, err := s.store.CreateAttendance(r.Context(), model.Attendance{
		AttendanceDate: attendanceDate,
		Status:         status,
		Notes:          req.Notes,
		StudentID:      req.StudentID,
		TeacherID:      claims.UserID,
		SubjectID:      req.SubjectID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	subjectName := ""
	if attendance.SubjectID != nil {
		if name, err := s.store.GetSubjectName(r.Context(), *attendance.SubjectID); err == nil {
			subjectName = name
		}
	}
	dateText := attendance.AttendanceDate.UTC().Format("2006-01-02")
	message := fmt.Sprintf("Status: %s (%s).", attendance.Status, dateText)
	if subjectName != "" {
		message = fmt.Sprintf("Status: %s at %s (%s).", attendance.Status, subjectName, dateText)
	}

	_, err = s.dispatcher.CreateAndPush(r.Context(), notify.Input{
		Title:   "Attendance recorded",
		Message: message,
		Type:    model.NotificationAttendance,
		UserID:  attendance.StudentID,
	}, notify.Event{
		Type:  "attendance",
		Event: "created",
		Attendance: &notify.AttendancePayload{
			ID:             attendance.ID,
			AttendanceDate: attendance.AttendanceDate.UTC().Format(time.RFC3339),
			Status:         attendance.Status,
			Notes:          attendance.Notes,
			StudentID:      attendance.StudentID,
			TeacherID:      attendance.TeacherID,
			SubjectID:      attendance.SubjectID,
		},
	})
	if err != nil {
		slog.Error("attendance notification failed", "attendance_id", attendance.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, attendanceResponse{
		ID:             attendance.ID,
		AttendanceDate: attendance.AttendanceDate.UTC().Format(time.RFC3339),
		Status:         attendance.Status,
		Notes:          attendance.Notes,
		StudentID:      attendance.StudentID,
		TeacherID:      attendance.TeacherID,
		SubjectID:      attendance.SubjectID,
		CreatedAt:      attendance.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Announcements

type createAnnouncementRequest struct {
	Title   string   `json:"title"`
	Message string   `json:"message"`
	UserIDs []string `json:"userIds,omitempty"`
}

func (s *Server) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req createAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if req.Title == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	recipients := req.UserIDs
	if len(recipients) == 0 {
		all, err := s.store.ListStudentUserIDs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		recipients = all
	}

	created, err := s.dispatcher.CreateAndPushMany(r.Context(), recipients, notify.Input{
		Title:   req.Title,
		Message: req.Message,
		Type:    model.NotificationAnnouncement,
	}, notify.Event{
		Type:  "announcement",
		Event: "created",
		Announcement: &notify.AnnouncementPayload{
			Title:   req.Title,
			Message: req.Message,
		},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"recipients": len(created)})
}

type systemAnnouncementRequest struct {
	Message string `json:"message"`
}

// handleSystemAnnouncement pushes a transient frame to every open
// connection. Nothing is persisted: it is meant for operational notices
// like imminent maintenance.
func (s *Server) handleSystemAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req systemAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	delivered := s.registry.Broadcast(map[string]string{
		"type":    "announcement",
		"event":   "system",
		"message": req.Message,
	})
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

// Notifications

type createNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"notificationType"`
	UserID  string `json:"userId"`
}

type notificationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"notificationType"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
	UserID    string `json:"userId"`
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Title == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	notificationType, err := normalizeNotificationType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_notification_type")
		return
	}

	notification, err := s.dispatcher.CreateAndPush(r.Context(), notify.Input{
		Title:   req.Title,
		Message: req.Message,
		Type:    notificationType,
		UserID:  req.UserID,
	}, notify.Event{Type: "notification", Event: "created"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapNotificationResponse(notification))
}

func (s *Server) handleGetMyNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	notifications, err := s.store.ListUserNotifications(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	out := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, mapNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notification, ok := s.loadOwnedNotification(w, r)
	if !ok {
		return
	}
	updated, err := s.store.MarkNotificationRead(r.Context(), notification.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapNotificationResponse(updated))
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	notification, ok := s.loadOwnedNotification(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteNotification(r.Context(), notification.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "notification_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedNotification fetches the notification and enforces that only the
// recipient (or an admin) may touch it.
func (s *Server) loadOwnedNotification(w http.ResponseWriter, r *http.Request) (model.Notification, bool) {
	claims := claimsFromContext(r.Context())
	notificationID := chi.URLParam(r, "notificationId")
	if notificationID == "" {
		writeError(w, http.StatusBadRequest, "missing_notification_id")
		return model.Notification{}, false
	}
	notification, err := s.store.GetNotification(r.Context(), notificationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "notification_not_found")
			return model.Notification{}, false
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return model.Notification{}, false
	}
	if notification.UserID != claims.UserID && claims.Role != string(model.RoleAdmin) {
		writeError(w, http.StatusForbidden, "forbidden")
		return model.Notification{}, false
	}
	return notification, true
}

// Helpers

func normalizeGradeType(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "exam", "test", "homework", "assignment", "other":
		return strings.ToLower(strings.TrimSpace(value)), nil
	}
	return "", fmt.Errorf("unknown grade type %q", value)
}

func normalizeAttendanceStatus(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "present", "absent", "late", "excused":
		return strings.ToLower(strings.TrimSpace(value)), nil
	}
	return "", fmt.Errorf("unknown attendance status %q", value)
}

func normalizeNotificationType(value string) (model.NotificationType, error) {
	switch model.NotificationType(strings.ToLower(strings.TrimSpace(value))) {
	case model.NotificationNewGrade,
		model.NotificationNewHomework,
		model.NotificationAnnouncement,
		model.NotificationScheduleChange,
		model.NotificationAttendance,
		model.NotificationMessage,
		model.NotificationOther:
		return model.NotificationType(strings.ToLower(strings.TrimSpace(value))), nil
	}
	return "", fmt.Errorf("unknown notification type %q", value)
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

func mapUserSummary(user model.User) userSummary {
	return userSummary{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        string(user.Role),
		IsActivated: user.IsActivated,
	}
}

func mapHomeworkResponse(homework model.Homework) homeworkResponse {
	var dueDate *string
	if homework.DueDate != nil {
		formatted := homework.DueDate.UTC().Format(time.RFC3339)
		dueDate = &formatted
	}
	assigned := homework.AssignedStudentIDs
	if assigned == nil {
		assigned = []string{}
	}
	return homeworkResponse{
		ID:                 homework.ID,
		Title:              homework.Title,
		Description:        homework.Description,
		DueDate:            dueDate,
		ClassID:            homework.ClassID,
		SubjectID:          homework.SubjectID,
		TeacherID:          homework.TeacherID,
		AssignedStudentIDs: assigned,
		IsPersonal:         len(homework.AssignedStudentIDs) > 0,
		CreatedAt:          homework.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapNotificationResponse(n model.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		UserID:    n.UserID,
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
