package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/sanitize"
)

const defaultPageSize = 10

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type labelRequest struct {
	Label string `json:"label" validate:"max=64"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "Health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "timestamp": s.now().Format(database.TimeLayout)})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	token, expires, err := s.auth.Login(req.Password)
	switch {
	case errors.Is(err, ErrLoginDisabled):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ErrInvalidCredentials):
		s.logger.WarnContext(r.Context(), "Failed dashboard login", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires.UTC().Format(time.RFC3339)})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := intQuery(r, "page_size", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.MaxPageSize > 0 && pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}

	result, err := s.deps.Store.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view := usersPageView{
		Users:    make([]userView, 0, len(result.Users)),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	}
	for _, u := range result.Users {
		view.Users = append(view.Users, newUserView(u.User, u.IsOnline))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView(*st))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.deps.Store.History(r.Context(), userID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyView(messages))
}

func (s *Server) setLabel(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req labelRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	label := sanitize.Line(req.Label)
	if err := s.deps.Store.SetLabel(r.Context(), userID, label); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, map[string]any{"user_id": userID, "label": label})
}

func (s *Server) userStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	st, err := s.deps.Store.UserStatus(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userStatusView{
		UserID:       st.UserID,
		FullName:     st.FullName,
		Username:     st.Username,
		PhotoURL:     nullString(st.PhotoURL),
		IsOnline:     st.IsOnline,
		LastActivity: nullString(st.LastActivity),
	})
}

func (s *Server) trackingStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.TrackingStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view := trackingStatsView{
		TotalReferrals:    st.TotalReferrals,
		TopReferrers:      make([]referrerView, 0, len(st.TopReferrers)),
		RecentReferrals:   newReferralViews(st.RecentReferrals),
		UsersWithTracking: st.UsersWithTracking,
		ConversionRate:    st.ConversionRate,
		TotalUsers:        st.TotalUsers,
	}
	for _, ref := range st.TopReferrers {
		view.TopReferrers = append(view.TopReferrers, newReferrerView(ref))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) userTracking(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	tr, err := s.deps.Store.UserTracking(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	online, err := s.deps.Store.IsOnline(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view := userTrackingView{
		UserInfo:  newUserView(tr.User, online),
		Referrals: newReferralViews(tr.Referrals),
	}
	if tr.Referrer != nil {
		ref := newReferrerView(*tr.Referrer)
		view.Referrer = &ref
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) userLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	u, err := s.deps.Store.GetUser(r.Context(), userID)
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		s.fail(w, r, err)
		return
	}
	if u != nil && u.InviteLink.Valid && u.InviteLink.String != "" {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "invite_link": u.InviteLink.String, "source": "database"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "invite_link": s.deps.Links.ChannelLink(userID), "source": "generated"})
}

func (s *Server) channelInviteLink(w http.ResponseWriter, r *http.Request) {
	link := s.deps.Links.PersonalBotLink(r.Context(), s.deps.AdminUserID)
	writeJSON(w, http.StatusOK, map[string]string{"invite_link": link})
}

// decodeJSON decodes and validates a JSON body, writing a 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return err.Error()
}
