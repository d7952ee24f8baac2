package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/internal/store"
	"referral_engine/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	runs atomic.Int32
}

func (r *countingReconciler) Validate(context.Context, int) ([]service.Inconsistency, error) {
	return nil, nil
}

func (r *countingReconciler) BatchReconcile(_ context.Context, ids []string) *service.BatchResult {
	r.runs.Add(1)
	return &service.BatchResult{Succeeded: len(ids)}
}

func (r *countingReconciler) ListUserIDs(context.Context) ([]string, error) {
	return []string{"u1"}, nil
}

type brokenCatalog struct{}

func (brokenCatalog) EnsureQuestCatalogIntegrity(context.Context) (*service.CatalogReport, error) {
	return nil, errors.New("store unavailable")
}

type invalidator struct {
	calls int
}

func (i *invalidator) Invalidate() { i.calls++ }

func TestReconcileWorker_RunOnceRepairsDrift(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	svc := service.NewService(st, service.Config{}, service.Options{
		DefaultQuests: []model.QuestDefinition{
			{Title: "Connect Discord", RequirementType: model.RequirementConnectAccount, RequiredCount: 1, RewardXP: 50},
		},
	})

	_, err := svc.Referrals.TrackReferral(ctx, "a", "b", model.RewardPolicy{Mode: model.RewardPending})
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, store.CollectionUsers, "a", store.Fields{"totalReferrals": 40}))

	inv := &invalidator{}
	w := NewReconcileWorker(svc.Reconciler, svc.Quests, inv, Config{SampleSize: 10}, nil)

	report, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Catalog.Inserted, 1)
	require.Len(t, report.Inconsistencies, 1)
	assert.Equal(t, "totalReferrals", report.Inconsistencies[0].Field)
	assert.Equal(t, 2, report.Batch.Succeeded)
	assert.Equal(t, 1, inv.calls)

	user, err := svc.Users.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, user.TotalReferrals)

	report, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Inconsistencies)
	assert.Empty(t, report.Catalog.Inserted)
}

func TestReconcileWorker_RunOnceSweepsDespiteCatalogFailure(t *testing.T) {
	reconciler := &countingReconciler{}
	w := NewReconcileWorker(reconciler, brokenCatalog{}, nil, Config{}, nil)

	report, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	require.NotNil(t, report.Batch)
	assert.Equal(t, 1, report.Batch.Succeeded)
}

func TestReconcileWorker_StartStop(t *testing.T) {
	reconciler := &countingReconciler{}
	svc := service.NewService(memory.New(nil), service.Config{}, service.Options{DefaultQuests: []model.QuestDefinition{}})
	w := NewReconcileWorker(reconciler, svc.Quests, nil, Config{Interval: 20 * time.Millisecond}, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return reconciler.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	assert.Error(t, NewReconcileWorker(reconciler, svc.Quests, nil, Config{}, nil).Start(context.Background()))
}
