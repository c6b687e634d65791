package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/programhealth/internal/actor"
	"github.com/roach88/programhealth/internal/config"
	"github.com/roach88/programhealth/internal/emission"
	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/isolation"
	"github.com/roach88/programhealth/internal/logging"
	"github.com/roach88/programhealth/internal/m3"
	"github.com/roach88/programhealth/internal/moduleruntime"
	"github.com/roach88/programhealth/internal/rationale"
	"github.com/roach88/programhealth/internal/readmodel"
	"github.com/roach88/programhealth/internal/store"
	"github.com/roach88/programhealth/internal/testutil"
)

const testSecret = "test-secret-key-for-unit-tests-only"

type testServer struct {
	srv    *httptest.Server
	store  *store.Store
	tokens *actor.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithClock(testutil.NewStepClock().Now),
		store.WithIDGenerator(ir.NewSequenceGenerator("row")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, m3.Migrate(ctx, s.DB()))
	require.NoError(t, s.PutTeam(ctx, "team-1", "prog-1"))

	gw, err := emission.NewGateway(s, emission.WithLogger(logger))
	require.NoError(t, err)
	views := readmodel.NewService(s, logger)
	modules := config.StaticModules(&config.ModulesFile{Modules: map[string]config.ModuleSpec{
		"m3": {Active: true, DefaultEligibility: ir.EligibilityIneligible, DefaultReasonCodes: []string{"pilot_only"}},
	}})
	resolver := moduleruntime.NewResolver(s, modules, "m3")
	m3svc := m3.NewService(views, resolver, m3.NewImpactStore(s.DB()), m3.WithLogger(logger))
	verifier := isolation.NewVerifier(s, resolver, m3svc, isolation.WithLogger(logger))
	tokens := actor.NewVerifier(testSecret, "", "")

	h := New(Deps{
		Emitter:   gw,
		Views:     views,
		M3:        m3svc,
		Isolation: verifier,
		Tokens:    tokens,
		Rationale: rationale.Options{},
		Logger:    logger,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: s, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func emissionBody(inputsHash, label string) map[string]any {
	return map[string]any{
		"programId":  "prog-1",
		"sport":      "xc",
		"horizon":    "H2",
		"inputsHash": inputsHash,
		"resultPayload": map[string]any{
			"summary": map[string]any{"label": label},
			"absences": []any{
				map[string]any{"absence_key": "coverage:1500m", "absence_type": "coverage", "severity": 2, "details": map[string]any{}},
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestEmit_CreatedThenDeduplicated(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "first"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first ir.EmitResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, 1, first.AbsencesUpserted)
	assert.True(t, first.SnapshotWritten)

	resp, body = ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "first"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second ir.EmitResult
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.LedgerID, second.LedgerID)
}

func TestEmit_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "first"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "changed"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var env errorResponse
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, ir.ErrCodeDivergentResubmission, env.Code)
	assert.True(t, strings.HasPrefix(env.Error, emission.Op+":"))

	bad := emissionBody("hash-2", "x")
	bad["horizon"] = "H9"
	delete(bad, "programId")
	resp, body = ts.do(t, http.MethodPost, "/v1/program-health/emissions", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, ir.ErrCodeInvalidArgument, env.Code)
	assert.Len(t, env.Details, 2)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/v1/program-health/emissions", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestEmit_BindsBearerActor(t *testing.T) {
	ts := newTestServer(t)
	tok, err := ts.tokens.Issue("coach-7", []string{"coach"}, time.Hour)
	require.NoError(t, err)

	resp, _ := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "x"),
		"Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	events, err := ts.store.ListEvents(context.Background(), "prog-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ActorUserID)
	assert.Equal(t, "coach-7", *events[0].ActorUserID)
}

func TestInvalidBearerRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "x"),
		"Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	n, err := ts.store.CountRows(context.Background(), store.TableCanonicalEvents, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestView(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "x"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/v1/programs/prog-1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "H2", view["snapshotHorizon"])
	latest := view["latestSnapshotsByHorizon"].(map[string]any)
	assert.Nil(t, latest["H1"])
	assert.NotNil(t, latest["H2"])
	absences := view["absences"].([]any)
	require.Len(t, absences, 1)
	assert.Equal(t, 2.0, absences[0].(map[string]any)["severity"])
}

func TestM3Endpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/v1/m3/state?teamId=team-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state ir.ModuleRuntimeState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "prog-1", state.ProgramID)
	assert.Equal(t, ir.ModeActiveUnavailable, state.Mode)
	assert.Equal(t, []string{"pilot_only"}, state.EligibilityReasonCodes)

	resp, body = ts.do(t, http.MethodGet, "/v1/m3/impacts?programId=prog-1&horizon=H1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"mode":"active_unavailable","impacts":[]}`, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/v1/m3/impacts?programId=prog-1&horizon=H7", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/m3/state", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/m3/state?teamId=nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsolationDiagnostic(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "x"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/v1/diagnostics/m3-isolation", map[string]any{"teamId": "team-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report isolation.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.OK)
	assert.Equal(t, "prog-1", report.ProgramID)
	assert.Len(t, report.Tables, 5)

	resp, body = ts.do(t, http.MethodPost, "/v1/diagnostics/m3-isolation", map[string]any{
		"programId":  "prog-1",
		"candidates": []map[string]any{{"recruitId": "r-1", "capabilityNodeId": "node-1", "evidence": 0.7}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report = isolation.Report{}
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.DryRunCandidates)
}

func TestValidateRationale(t *testing.T) {
	ts := newTestServer(t)
	text := "Could pressure coverage because alignment to the capability node is primary, supported by verified performance marks and coach notes."

	resp, body := ts.do(t, http.MethodPost, "/v1/rationale/validate", map[string]any{"text": text})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res rationale.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.OK)

	resp, body = ts.do(t, http.MethodPost, "/v1/rationale/validate", map[string]any{"text": text, "requireTemporal": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, rationale.RuleTemporal, res.Violations[0].Rule)
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/program-health/emissions", emissionBody("hash-1", "x"))

	resp, body := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "phk_emissions_total")
}

func TestStatusFor(t *testing.T) {
	tests := map[ir.ErrorCode]int{
		ir.ErrCodeInvalidArgument:       http.StatusBadRequest,
		ir.ErrCodeDivergentResubmission: http.StatusConflict,
		ir.ErrCodeRationaleContract:     http.StatusUnprocessableEntity,
		ir.ErrCodeNotFound:              http.StatusNotFound,
		ir.ErrCodeStorageUnavailable:    http.StatusServiceUnavailable,
		ir.ErrCodeProjectionInvariant:   http.StatusInternalServerError,
		"":                              http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code)
	}
}
