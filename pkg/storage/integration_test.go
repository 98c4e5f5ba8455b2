//go:build integration

package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hornet-soc/hornet/pkg/database"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// One PostgreSQL container (or the CI service database) is shared by the
// whole package; tests isolate through freshly created tenants, which is
// exactly the boundary the row-level policies enforce.
var (
	sharedStore *Store
	sharedErr   error
	setupOnce   sync.Once
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	setupOnce.Do(func() {
		ctx := context.Background()

		connStr := os.Getenv("CI_DATABASE_URL")
		if connStr == "" {
			pgContainer, err := postgres.Run(ctx,
				"postgres:16-alpine",
				postgres.WithDatabase("hornet_test"),
				postgres.WithUsername("hornet"),
				postgres.WithPassword("hornet"),
				testcontainers.WithWaitStrategy(
					wait.ForLog("database system is ready to accept connections").
						WithOccurrence(2).
						WithStartupTimeout(30*time.Second)),
			)
			if err != nil {
				sharedErr = err
				return
			}
			connStr, sharedErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
			if sharedErr != nil {
				return
			}
		}

		poolCfg, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			sharedErr = err
			return
		}
		cc := poolCfg.ConnConfig
		client, err := database.NewClient(ctx, database.Config{
			Host:            cc.Host,
			Port:            int(cc.Port),
			User:            cc.User,
			Password:        cc.Password,
			Database:        cc.Database,
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		})
		if err != nil {
			sharedErr = err
			return
		}
		sharedStore = New(client.Pool(), "test-audit-secret")
	})
	require.NoError(t, sharedErr)
	return sharedStore
}

// newTenantCtx provisions a tenant and returns a context carrying its
// identity, the way the authentication middleware would.
func newTenantCtx(t *testing.T, store *Store) (context.Context, *models.Tenant) {
	t.Helper()
	ten, err := store.Tenants.CreateTenant(context.Background(),
		"tenant-"+uuid.New().String(), models.TierStandard)
	require.NoError(t, err)
	ctx := tenant.NewContext(context.Background(), &tenant.Identity{
		TenantID:   ten.ID,
		TenantName: ten.Name,
		Tier:       ten.SubscriptionTier,
	})
	return ctx, ten
}

func TestIncidentTenantIsolation(t *testing.T) {
	store := setupStore(t)
	ctxA, _ := newTenantCtx(t, store)
	ctxB, _ := newTenantCtx(t, store)

	inc := &models.Incident{
		ID:       uuid.New().String(),
		Severity: models.SeverityHigh,
		EventData: map[string]any{
			"event_type": "edr_alert",
		},
	}
	created, err := store.Incidents.Create(ctxA, inc, []models.Entity{
		{Type: "host", Value: "web-01"},
	})
	require.NoError(t, err)
	require.True(t, created)

	got, err := store.Incidents.Get(ctxA, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDetection, got.State)

	// Tenant B sees the incident as nonexistent, never as forbidden.
	_, err = store.Incidents.Get(ctxB, inc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	state := models.StateClosed
	err = store.Incidents.Update(ctxB, inc.ID, IncidentUpdate{State: &state})
	assert.ErrorIs(t, err, ErrNotFound)

	listed, err := store.Incidents.List(ctxB, ListFilter{Limit: 100})
	require.NoError(t, err)
	for _, other := range listed {
		assert.NotEqual(t, inc.ID, other.ID)
	}

	// B's entity queries cannot see A's indexed entities either.
	related, err := store.Entities.FindIncidentsByEntity(ctxB, "host", "web-01", 60, "")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestIncidentCreateIsIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx, _ := newTenantCtx(t, store)

	inc := &models.Incident{ID: uuid.New().String(), Severity: models.SeverityLow}
	created, err := store.Incidents.Create(ctx, inc, nil)
	require.NoError(t, err)
	assert.True(t, created)

	again, err := store.Incidents.Create(ctx, inc, nil)
	require.NoError(t, err)
	assert.False(t, again, "duplicate event delivery must not create a second incident")
}

func TestActionStatusLadder(t *testing.T) {
	store := setupStore(t)
	ctx, _ := newTenantCtx(t, store)

	inc := &models.Incident{ID: uuid.New().String()}
	_, err := store.Incidents.Create(ctx, inc, nil)
	require.NoError(t, err)

	action := &models.Action{
		ActionType: "notify_webhook",
		Target:     "https://hooks.example.com/soc",
		RiskLevel:  models.RiskLow,
	}
	require.NoError(t, store.Actions.Create(ctx, inc.ID, []*models.Action{action}))
	require.Equal(t, models.ActionProposed, action.Status)

	require.NoError(t, store.Actions.UpdateStatus(ctx, action.ID, models.ActionApproved, StatusUpdate{}))
	require.NoError(t, store.Actions.UpdateStatus(ctx, action.ID, models.ActionExecuting, StatusUpdate{}))
	require.NoError(t, store.Actions.UpdateStatus(ctx, action.ID, models.ActionCompleted, StatusUpdate{
		RollbackHandle: "fw-rule-42",
	}))

	// COMPLETED is terminal except for rollback; going backwards must fail.
	err = store.Actions.UpdateStatus(ctx, action.ID, models.ActionProposed, StatusUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := store.Actions.Get(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCompleted, got.Status)
	assert.Equal(t, "fw-rule-42", got.RollbackHandle)
	assert.NotNil(t, got.ExecutedAt)
}

func TestRetryJobLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx, ten := newTenantCtx(t, store)

	jobID, err := store.Retry.Enqueue(ctx, &models.RetryJob{
		JobType:     "webhook_delivery",
		Target:      "https://hooks.example.com/dead",
		Payload:     map[string]any{"incident_id": uuid.New().String()},
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	// The processor claims without a tenant identity and re-enters tenant
	// scope per job.
	claimed, err := store.Retry.ClaimDue(context.Background(), 10, time.Minute)
	require.NoError(t, err)

	var job *models.RetryJob
	for _, j := range claimed {
		if j.ID == jobID {
			job = j
		}
	}
	require.NotNil(t, job, "enqueued job should be claimable")
	assert.Equal(t, models.RetryRetrying, job.Status)
	assert.Equal(t, ten.ID, job.TenantID)

	jobCtx := tenant.NewContext(context.Background(), &tenant.Identity{TenantID: job.TenantID})
	status, err := store.Retry.MarkFailed(jobCtx, job.ID, "connection refused", 30*time.Second, 20)
	require.NoError(t, err)
	assert.Equal(t, models.RetryDeadLettered, status)

	dlq, err := store.Retry.ListDLQ(ctx, 50)
	require.NoError(t, err)
	var found *models.RetryJob
	for _, j := range dlq {
		if j.ID == jobID {
			found = j
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.ErrorHistory, 1)
	assert.Equal(t, "connection refused", found.ErrorHistory[0].Error)

	// Replay resets the job for a fresh claim.
	require.NoError(t, store.Retry.Replay(ctx, jobID))
	claimed, err = store.Retry.ClaimDue(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	var replayed bool
	for _, j := range claimed {
		if j.ID == jobID {
			replayed = true
		}
	}
	assert.True(t, replayed, "replayed job should be claimable again")
}

func TestClaimDueReclaimsOrphanedRetrying(t *testing.T) {
	store := setupStore(t)
	ctx, _ := newTenantCtx(t, store)

	jobID, err := store.Retry.Enqueue(ctx, &models.RetryJob{
		JobType: "webhook_delivery",
		Target:  "https://hooks.example.com/orphan",
	})
	require.NoError(t, err)

	claimed, err := store.Retry.ClaimDue(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.True(t, containsJob(claimed, jobID))

	// Freshly claimed: invisible until the reclaim window passes.
	claimed, err = store.Retry.ClaimDue(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, containsJob(claimed, jobID))

	// Backdate the claim as if the owning processor died an hour ago.
	err = store.withSystem(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(),
			"UPDATE retry_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1", jobID)
		return err
	})
	require.NoError(t, err)

	claimed, err = store.Retry.ClaimDue(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, containsJob(claimed, jobID), "stale RETRYING job should be reclaimed")
}

func containsJob(jobs []*models.RetryJob, id string) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

func TestAuditLogSignedAndTamperEvident(t *testing.T) {
	store := setupStore(t)
	ctx, _ := newTenantCtx(t, store)

	entry := &models.AuditLogEntry{
		Actor:        "api_key:k-1",
		Action:       "incident_response",
		ResourceType: "incident",
		ResourceID:   uuid.New().String(),
		Details:      map[string]any{"response_type": "approve"},
	}
	require.NoError(t, store.Audit.Record(ctx, entry))

	listed, err := store.Audit.List(ctx, AuditFilter{Action: "incident_response", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, listed)

	got := listed[0]
	ok, err := store.Audit.Verify(got)
	require.NoError(t, err)
	assert.True(t, ok)

	got.Actor = "api_key:someone-else"
	ok, err = store.Audit.Verify(got)
	require.NoError(t, err)
	assert.False(t, ok, "a tampered entry must fail verification")
}

func TestCampaignLinksAndGraph(t *testing.T) {
	store := setupStore(t)
	ctx, _ := newTenantCtx(t, store)

	ids := make([]string, 3)
	for i := range ids {
		inc := &models.Incident{ID: uuid.New().String(), Severity: models.SeverityMedium}
		_, err := store.Incidents.Create(ctx, inc, []models.Entity{
			{Type: "ip", Value: "203.0.113.7"},
		})
		require.NoError(t, err)
		ids[i] = inc.ID
	}

	created, err := store.Links.Link(ctx, &models.IncidentLink{
		IncidentA:  ids[0],
		IncidentB:  ids[1],
		LinkType:   "shared_infrastructure",
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair again, reversed: idempotent under canonical ordering.
	created, err = store.Links.Link(ctx, &models.IncidentLink{
		IncidentA:  ids[1],
		IncidentB:  ids[0],
		LinkType:   "shared_infrastructure",
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.False(t, created)

	campaignID, err := store.Links.CreateCampaign(ctx, ids)
	require.NoError(t, err)
	require.NotEmpty(t, campaignID)

	related, err := store.Links.CampaignIncidents(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, related, len(ids))

	nodes, edges, err := store.Links.Graph(ctx, 24)
	require.NoError(t, err)
	assert.NotEmpty(t, nodes)
	assert.NotEmpty(t, edges)
}
