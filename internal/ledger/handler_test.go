package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (chi.Router, *Service) {
	t.Helper()
	svc, _ := newTestService(t, SignParty)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r, svc
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCollectionFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := do(r, http.MethodPost, "/parties", `{"kind":"SUPPLIER","code":"S-1","name":"Ramesh","phone":"9876543210"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var party Party
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&party))
	require.Equal(t, "+919876543210", party.Phone)

	id := uuid.NewString()
	body := `{"id":"` + id + `","party_id":"` + party.ID.String() + `","date":"2026-03-04","session":"MORNING","milk_type":"BUFFALO","quantity":"10","rate":"40"}`
	rr = do(r, http.MethodPost, "/ledger/collections", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res AppendResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.Equal(t, "400", res.Record.BalanceAfter.String())

	rr = do(r, http.MethodPost, "/ledger/collections", body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.True(t, res.Replayed)

	rr = do(r, http.MethodPost, "/ledger/payments", `{"party_id":"`+party.ID.String()+`","date":"2026-03-04","amount":150}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(r, http.MethodGet, "/parties/"+party.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&party))
	require.Equal(t, "250", party.Balance.String())

	rr = do(r, http.MethodGet, "/parties/"+party.ID.String()+"/records?from=2026-03-04&to=2026-03-04", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var records []Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&records))
	require.Len(t, records, 2)
}

func TestHandlerErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"unknown field", http.MethodPost, "/parties", `{"kind":"SUPPLIER","code":"S-1","name":"x","extra":1}`, http.StatusBadRequest},
		{"bad kind", http.MethodPost, "/parties", `{"kind":"VENDOR","code":"S-1","name":"x"}`, http.StatusBadRequest},
		{"bad session", http.MethodPost, "/ledger/collections", `{"party_id":"` + uuid.NewString() + `","date":"2026-03-04","session":"NOON","quantity":1,"rate":1}`, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/ledger/sales", `{"party_id":"` + uuid.NewString() + `","date":"04/03/2026","session":"MORNING","quantity":1,"rate":1}`, http.StatusBadRequest},
		{"unknown party", http.MethodPost, "/ledger/collections", `{"party_id":"` + uuid.NewString() + `","date":"2026-03-04","session":"MORNING","quantity":1,"rate":1}`, http.StatusNotFound},
		{"unknown party get", http.MethodGet, "/parties/" + uuid.NewString(), "", http.StatusNotFound},
		{"bad range", http.MethodGet, "/ledger/records?from=2026-03-05&to=2026-03-01", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := do(r, tc.method, tc.target, tc.body)
		require.Equal(t, tc.status, rr.Code, "%s: %s", tc.name, rr.Body.String())
		if tc.status >= 400 {
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"), tc.name)
		}
	}
}
