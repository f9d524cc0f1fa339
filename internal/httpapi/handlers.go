package httpapi

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/story"
)

// UserHeader names the anonymous user making the request.
const UserHeader = "X-User-ID"

type storyView struct {
	ID          string     `json:"id"`
	PublishDate string     `json:"publish_date"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Tier        story.Tier `json:"tier"`
}

func viewOf(st story.Story) storyView {
	return storyView{
		ID:          st.ID,
		PublishDate: st.PublishDate,
		Position:    st.Position,
		Title:       st.Title,
		Tier:        st.Tier(),
	}
}

type lineupResponse struct {
	Date    string      `json:"date"`
	Stories []storyView `json:"stories"`
}

type resolutionResponse struct {
	Story      storyView      `json:"story"`
	Outcome    access.Outcome `json:"outcome"`
	Method     story.Method   `json:"method,omitempty"`
	Recorded   bool           `json:"recorded,omitempty"`
	Unrecorded bool           `json:"unrecorded,omitempty"`
	Content    string         `json:"content,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// resolutionOf renders res. Content is only included on a reveal.
func resolutionOf(res access.Resolution, err error) resolutionResponse {
	out := resolutionResponse{
		Story:      viewOf(res.Story),
		Outcome:    res.Outcome,
		Method:     res.Method,
		Recorded:   res.Recorded,
		Unrecorded: res.Unrecorded,
	}
	if res.Revealed() {
		out.Content = res.Story.Content
	}
	if err != nil {
		if k, ok := access.KindOf(err); ok {
			out.Error = string(k)
		} else {
			out.Error = err.Error()
		}
		out.Message = access.UserMessage(err)
	}
	return out
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createUser(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": s.deps.IDs.Generate()})
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = story.Today(s.deps.Now())
	}
	date, err := story.ParseDate(date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stories, err := s.deps.Store.ListForDate(r.Context(), date)
	if err != nil {
		s.deps.Logger.Error("list stories failed", "request_id", RequestID(r.Context()), "date", date, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "Something went wrong. Try again."})
		return
	}

	resp := lineupResponse{Date: date, Stories: make([]storyView, 0, len(stories))}
	for _, st := range stories {
		resp.Stories = append(resp.Stories, viewOf(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookupStory resolves the {id} route variable. It writes the error
// response itself and returns false on failure.
func (s *Server) lookupStory(w http.ResponseWriter, r *http.Request) (story.Story, bool) {
	id := mux.Vars(r)["id"]
	st, err := s.deps.Store.ReadStory(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "story not found")
		return story.Story{}, false
	}
	if err != nil {
		s.deps.Logger.Error("read story failed", "request_id", RequestID(r.Context()), "story", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "Something went wrong. Try again."})
		return story.Story{}, false
	}
	return st, true
}

func userOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusBadRequest, access.ErrMissingUser.Error())
		return "", false
	}
	return user, true
}

func (s *Server) openStory(w http.ResponseWriter, r *http.Request) {
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	st, ok := s.lookupStory(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Resolver.Resolve(r.Context(), access.Request{UserID: user, Story: st})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resolutionOf(res, nil))
	case access.IsTransient(err) && !res.Revealed():
		writeJSON(w, http.StatusServiceUnavailable, resolutionOf(res, err))
	case access.IsTransient(err):
		writeJSON(w, http.StatusOK, resolutionOf(res, err))
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type unlockRequest struct {
	RewardToken string `json:"reward_token"`
}

func (s *Server) unlockStory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "ad rewards are not configured")
		return
	}
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	var req unlockRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	st, ok := s.lookupStory(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Resolver.UnlockWithAd(r.Context(),
		access.Request{UserID: user, Story: st},
		reward.NewToken(s.deps.Verifier, req.RewardToken),
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resolutionOf(res, nil))
	case errors.Is(err, access.ErrAdInProgress), errors.Is(err, access.ErrNotAdGated):
		writeJSON(w, http.StatusConflict, resolutionOf(res, err))
	case access.IsGrantFailure(err):
		s.deps.Logger.Info("ad grant rejected", "request_id", RequestID(r.Context()), "user", user, "story", st.ID, "error", err)
		writeJSON(w, http.StatusPaymentRequired, resolutionOf(res, err))
	case access.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, resolutionOf(res, err))
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) listUnlocks(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	unlocks, err := s.deps.Store.ListUnlocks(r.Context(), user)
	if err != nil {
		s.deps.Logger.Error("list unlocks failed", "request_id", RequestID(r.Context()), "user", user, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "Something went wrong. Try again."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user, "unlocks": unlocks})
}

func (s *Server) offer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Offer)
}

func (s *Server) adminGenerate(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if s.deps.AdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.deps.AdminKey)) != 1 {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generator is not configured")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = story.Today(s.deps.Now())
	}
	res, err := s.deps.Generator.Generate(r.Context(), date)
	if err != nil {
		s.deps.Logger.Error("manual generation failed", "request_id", RequestID(r.Context()), "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
