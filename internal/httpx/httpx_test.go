package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: amount", models.ErrValidation), 400, "VALIDATION"},
		{models.ErrInvalidDateRange, 400, "VALIDATION"},
		{fmt.Errorf("job: %w", models.ErrNotFound), 404, "NOT_FOUND"},
		{models.ErrForbidden, 403, "FORBIDDEN"},
		{models.ErrContractExists, 409, "CONFLICT"},
		{models.ErrInsufficientFunds, 402, "INSUFFICIENT_FUNDS"},
		{fmt.Errorf("paypal: %w", models.ErrExternalUnavailable), 503, "EXTERNAL_UNAVAILABLE"},
		{errors.New("pq: connection reset"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, nil, tc.err)
		if rec.Code != tc.status {
			t.Errorf("%v: status got %d, want %d", tc.err, rec.Code, tc.status)
		}
		var body errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Code != tc.code {
			t.Errorf("%v: code got %s, want %s", tc.err, body.Code, tc.code)
		}
	}
}

func TestWriteError_HidesInternalMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errors.New("password=hunter2"))
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestWriteError_NamesTheConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, models.ErrContractExists)
	if !strings.Contains(rec.Body.String(), "already exists") {
		t.Errorf("duplicate contract message should be specific, got %s", rec.Body.String())
	}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=5"`
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"amount":"10.50","note":"hi"}`, false},
		{"numeric amount", `{"amount":10.5}`, false},
		{"zero", `{"amount":"0"}`, true},
		{"negative", `{"amount":"-1"}`, true},
		{"too long", `{"amount":"1","note":"toolong"}`, true},
		{"unknown field", `{"amount":"1","extra":true}`, true},
		{"garbage", `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var req amountRequest
			err := Decode(r, &req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("got err %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrValidation) {
				t.Errorf("decode errors must be VALIDATION, got %v", err)
			}
		})
	}
}

func TestPage(t *testing.T) {
	cases := []struct {
		query         string
		limit, offset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=9999", 200, 0},
		{"limit=-1&offset=-5", 50, 0},
		{"limit=abc", 50, 0},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/x?"+c.query, nil)
		limit, offset := Page(r, 50, 200)
		if limit != c.limit || offset != c.offset {
			t.Errorf("%q: got (%d, %d), want (%d, %d)", c.query, limit, offset, c.limit, c.offset)
		}
	}
}
