package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/models"
)

// asPrincipal stands in for middleware.Authenticate.
func asPrincipal(p models.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), p)))
		})
	}
}

func serve(f *fixture, as models.User, method, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewHandler(f.svc, nil).Register(mux, asPrincipal(f.as(as)))
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHandler_CreateContract(t *testing.T) {
	f := newFixture(t, "500.00")
	body := `{"proposal_id":"` + f.proposal.ID.String() + `","amount":"300.00","start_date":"2025-03-10","end_date":"2025-04-10"}`

	rec := serve(f, f.customer, http.MethodPost, "/v1/jobs/"+f.job.ID.String()+"/contracts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ContractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.job.ID, resp.Contract.JobID)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "200", resp.Transaction.CurrentBalance.String())

	// Same request again names the conflict.
	rec = serve(f, f.customer, http.MethodPost, "/v1/jobs/"+f.job.ID.String()+"/contracts", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	var e errResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "CONFLICT", e.Code)
	assert.Contains(t, e.Error, "already exists")
}

func TestHandler_CreateContractErrors(t *testing.T) {
	cases := []struct {
		name string
		body func(f *fixture) string
		want int
	}{
		{"bad date", func(f *fixture) string {
			return `{"proposal_id":"` + f.proposal.ID.String() + `","amount":"1","start_date":"tomorrow","end_date":"2025-04-10"}`
		}, http.StatusBadRequest},
		{"past date", func(f *fixture) string {
			return `{"proposal_id":"` + f.proposal.ID.String() + `","amount":"1","start_date":"2025-03-01","end_date":"2025-04-10"}`
		}, http.StatusBadRequest},
		{"missing amount", func(f *fixture) string {
			return `{"proposal_id":"` + f.proposal.ID.String() + `","start_date":"2025-03-10","end_date":"2025-04-10"}`
		}, http.StatusBadRequest},
		{"unknown field", func(f *fixture) string {
			return `{"proposal_id":"` + f.proposal.ID.String() + `","amount":"1","start_date":"2025-03-10","end_date":"2025-04-10","x":1}`
		}, http.StatusBadRequest},
		{"insufficient", func(f *fixture) string {
			return `{"proposal_id":"` + f.proposal.ID.String() + `","amount":"900","start_date":"2025-03-10","end_date":"2025-04-10"}`
		}, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "500.00")
			rec := serve(f, f.customer, http.MethodPost, "/v1/jobs/"+f.job.ID.String()+"/contracts", tc.body(f))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_BadPathID(t *testing.T) {
	f := newFixture(t, "0")
	rec := serve(f, f.customer, http.MethodPost, "/v1/contracts/not-a-uuid/complete", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CompleteForbiddenForFreelancer(t *testing.T) {
	f := newFixture(t, "500.00")
	c, _, err := f.svc.CreateContract(t.Context(), f.as(f.customer), f.contractInput("300.00"))
	require.NoError(t, err)

	rec := serve(f, f.freelancer, http.MethodPost, "/v1/contracts/"+c.ID.String()+"/complete", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(f, f.customer, http.MethodPost, "/v1/contracts/"+c.ID.String()+"/complete", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandler_ListJobsEmptyArray(t *testing.T) {
	f := newFixture(t, "0")
	rec := serve(f, f.freelancer, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_ModifyProposal(t *testing.T) {
	f := newFixture(t, "0")
	path := "/v1/jobs/" + f.job.ID.String() + "/proposals/" + f.proposal.ID.String()

	rec := serve(f, f.customer, http.MethodPatch, path, `{"proposal_stage":"INTERVIEWING"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.ProposalInterviewing, f.store.ProposalByID(f.proposal.ID).Stage)

	rec = serve(f, f.customer, http.MethodPatch, path, `{"proposal_stage":"BOGUS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
