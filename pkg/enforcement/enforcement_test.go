package enforcement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/identity"
	"github.com/corralproject/corral/pkg/types"
)

// stubFilter records which checks ran and can veto on demand
type stubFilter struct {
	name  string
	veto  error
	calls *[]string
}

func (f *stubFilter) Name() string { return f.name }

func (f *stubFilter) CheckCreate(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	*f.calls = append(*f.calls, f.name+".create")
	return f.veto
}

func (f *stubFilter) CheckUpdate(ctx context.Context, ictx identity.Context, oldLease, newLease *LeaseView) error {
	*f.calls = append(*f.calls, f.name+".update")
	return f.veto
}

func (f *stubFilter) OnEnd(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	*f.calls = append(*f.calls, f.name+".on_end")
	return f.veto
}

func leaseViewFor(d time.Duration, projectID string) *LeaseView {
	start := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	return &LeaseView{Lease: &types.Lease{
		ID: "lease-1", Name: "experiment",
		ProjectID: projectID,
		StartDate: start, EndDate: start.Add(d),
	}}
}

// TestChainFirstVetoWins tests that a veto stops the chain and the
// remaining filters never run
func TestChainFirstVetoWins(t *testing.T) {
	var calls []string
	chain := NewChain(
		&stubFilter{name: "first", calls: &calls},
		&stubFilter{name: "second", veto: errdefs.NotAuthorized("over budget"), calls: &calls},
		&stubFilter{name: "third", calls: &calls},
	)

	err := chain.CheckCreate(context.Background(), identity.Context{}, leaseViewFor(time.Hour, "p1"))
	require.Error(t, err)
	assert.True(t, errdefs.IsNotAuthorized(err))
	assert.Equal(t, []string{"first.create", "second.create"}, calls)
}

// TestChainOnEndBestEffort tests that a failing on_end does not stop the
// remaining filters
func TestChainOnEndBestEffort(t *testing.T) {
	var calls []string
	chain := NewChain(
		&stubFilter{name: "first", veto: errdefs.Unavailable("down"), calls: &calls},
		&stubFilter{name: "second", calls: &calls},
	)

	chain.OnEnd(context.Background(), identity.Context{}, leaseViewFor(time.Hour, "p1"))
	assert.Equal(t, []string{"first.on_end", "second.on_end"}, calls)
}

// TestMaxLeaseDuration tests the duration cap with exemptions
func TestMaxLeaseDuration(t *testing.T) {
	tests := []struct {
		name     string
		filter   *MaxLeaseDuration
		duration time.Duration
		project  string
		wantVeto bool
	}{
		{
			name:     "within cap",
			filter:   &MaxLeaseDuration{Max: 24 * time.Hour},
			duration: 4 * time.Hour,
			project:  "p1",
		},
		{
			name:     "at cap",
			filter:   &MaxLeaseDuration{Max: 24 * time.Hour},
			duration: 24 * time.Hour,
			project:  "p1",
		},
		{
			name:     "over cap",
			filter:   &MaxLeaseDuration{Max: 24 * time.Hour},
			duration: 25 * time.Hour,
			project:  "p1",
			wantVeto: true,
		},
		{
			name:     "exempt project",
			filter:   &MaxLeaseDuration{Max: 24 * time.Hour, ExemptProjects: []string{"p1"}},
			duration: 96 * time.Hour,
			project:  "p1",
		},
		{
			name:     "zero cap disables the filter",
			filter:   &MaxLeaseDuration{},
			duration: 96 * time.Hour,
			project:  "p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.CheckCreate(context.Background(), identity.Context{}, leaseViewFor(tt.duration, tt.project))
			if tt.wantVeto {
				require.Error(t, err)
				assert.True(t, errdefs.IsNotAuthorized(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestExternalService tests the HTTP policy filter against a stub server
func TestExternalService(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		switch r.URL.Path {
		case "/check-create":
			w.WriteHeader(http.StatusOK)
		case "/check-update":
			http.Error(w, "project out of budget", http.StatusPaymentRequired)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	f, err := NewExternalService(ExternalServiceConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	view := leaseViewFor(time.Hour, "p1")
	ictx := identity.Context{UserID: "user-1", ProjectID: "p1"}

	assert.NoError(t, f.CheckCreate(context.Background(), ictx, view))
	assert.Equal(t, "/check-create", gotPath)

	err = f.CheckUpdate(context.Background(), ictx, view, view)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotAuthorized(err))
	assert.Contains(t, err.Error(), "project out of budget")

	assert.NoError(t, f.OnEnd(context.Background(), ictx, view))
	assert.Equal(t, "/on-end", gotPath)
}

// TestExternalServiceUnreachable tests the unavailable classification
func TestExternalServiceUnreachable(t *testing.T) {
	f, err := NewExternalService(ExternalServiceConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})
	require.NoError(t, err)

	err = f.CheckCreate(context.Background(), identity.Context{}, leaseViewFor(time.Hour, "p1"))
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
}

// TestExternalServiceRequiresURL tests constructor validation
func TestExternalServiceRequiresURL(t *testing.T) {
	_, err := NewExternalService(ExternalServiceConfig{})
	assert.True(t, errdefs.IsInvalidInput(err))
}
