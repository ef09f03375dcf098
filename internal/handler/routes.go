package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/drug-speak/internal/auth"
	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/domain"
)

// SignUp handles POST /users
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req domain.SignUpRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.users.SignUp(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, resp)
}

// SignIn handles POST /auth/login
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decode(r, &creds); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.users.SignIn(r.Context(), creds)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, resp)
}

// UpdateProfile handles PATCH /users/update
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var update domain.ProfileUpdate
	if err := decode(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, user)
}

// SubmitStudyRecord handles POST /study-record for the authenticated user
func (h *Handler) SubmitStudyRecord(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var summary domain.StudyRecordSummary
	if err := decode(r, &summary); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.records.SubmitStudyRecord(r.Context(), userID, summary, domain.SourceAPI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, record)
}

// ListStudyRecords handles GET /study-record
func (h *Handler) ListStudyRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListStudyRecords(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, records)
}

// GetStudyRecord handles GET /study-record/{userID}
func (h *Handler) GetStudyRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.records.GetStudyRecord(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, record)
}

// GetLeaderboard handles GET /leaderboard?limit=
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, domain.ErrInvalidRequest)
			return
		}
		limit = n
	}

	entries, err := h.records.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entries)
}

// GetRank handles GET /leaderboard/rank/{userID}
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.records.Rank(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entry)
}

// GetStats handles GET /leaderboard/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.records.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, stats)
}

// ListDrugs handles GET /drugs?category=
func (h *Handler) ListDrugs(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		h.writeSuccess(w, http.StatusOK, h.catalog.Drugs())
		return
	}

	drugs, err := h.catalog.ByCategory(category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if drugs == nil {
		drugs = []catalog.Drug{}
	}
	h.writeSuccess(w, http.StatusOK, drugs)
}

// GetDrug handles GET /drugs/{drugID}
func (h *Handler) GetDrug(w http.ResponseWriter, r *http.Request) {
	drug, err := h.catalog.Drug(domain.DrugID(chi.URLParam(r, "drugID")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, drug)
}

// ListCategories handles GET /categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, h.catalog.Categories())
}
