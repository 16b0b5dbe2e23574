package jobs

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/models"
)

// Request bodies (snake_case JSON).

type CreateJobRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Budget      decimal.Decimal `json:"budget" validate:"gte=0"`
}

type ProposalRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	Content string          `json:"content" validate:"max=5000"`
}

type ModifyProposalRequest struct {
	Stage models.ProposalStage `json:"proposal_stage" validate:"required"`
}

type CreateContractRequest struct {
	ProposalID uuid.UUID       `json:"proposal_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	StartDate  string          `json:"start_date" validate:"required"`
	EndDate    string          `json:"end_date" validate:"required"`
}

type ContractResponse struct {
	Contract    *models.Contract    `json:"contract"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the job and contract routes behind auth.
func (h *Handler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/jobs", auth(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /v1/jobs/{id}/proposals", auth(http.HandlerFunc(h.SubmitProposal)))
	mux.Handle("PATCH /v1/jobs/{id}/proposals/{proposalID}", auth(http.HandlerFunc(h.ModifyProposal)))
	mux.Handle("POST /v1/jobs/{id}/contracts", auth(http.HandlerFunc(h.CreateContract)))
	mux.Handle("GET /v1/contracts", auth(http.HandlerFunc(h.ListContracts)))
	mux.Handle("GET /v1/contracts/{id}", auth(http.HandlerFunc(h.GetContract)))
	mux.Handle("POST /v1/contracts/{id}/complete", auth(http.HandlerFunc(h.CompleteContract)))
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req CreateJobRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	job, err := h.svc.CreateJob(r.Context(), p, CreateJobInput{Name: req.Name, Description: req.Description, Budget: req.Budget})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	list, err := h.svc.ListJobs(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	jobID, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req ProposalRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	prop, err := h.svc.SubmitProposal(r.Context(), p, jobID, ProposalInput{Amount: req.Amount, Content: req.Content})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, prop)
}

func (h *Handler) ModifyProposal(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	jobID, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	proposalID, err := pathID(r, "proposalID")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req ModifyProposalRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	prop, err := h.svc.ModifyProposal(r.Context(), p, jobID, proposalID, req.Stage)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, prop)
}

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	jobID, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req CreateContractRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, txn, err := h.svc.CreateContract(r.Context(), p, CreateContractInput{
		JobID:      jobID,
		ProposalID: req.ProposalID,
		Amount:     req.Amount,
		StartDate:  start,
		EndDate:    end,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ContractResponse{Contract: c, Transaction: txn})
}

func (h *Handler) CompleteContract(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, txn, err := h.svc.CompleteContract(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ContractResponse{Contract: c, Transaction: txn})
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.svc.GetContract(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	list, err := h.svc.ListContracts(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Contract{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", models.ErrValidation, name)
	}
	return id, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(field, s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", models.ErrValidation, field)
	}
	return t, nil
}
