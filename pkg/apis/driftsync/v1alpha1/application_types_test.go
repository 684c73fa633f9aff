package v1alpha1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyHelpers(t *testing.T) {
	tests := []struct {
		name      string
		policy    SyncPolicy
		automated bool
		prune     bool
		selfHeal  bool
	}{
		{
			name:   "no automation",
			policy: SyncPolicy{},
		},
		{
			name:      "automated without prune",
			policy:    SyncPolicy{Automated: &AutomatedSyncPolicy{}},
			automated: true,
		},
		{
			name:      "automated with prune and self-heal",
			policy:    SyncPolicy{Automated: &AutomatedSyncPolicy{Prune: true, SelfHeal: true}},
			automated: true,
			prune:     true,
			selfHeal:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &Application{Spec: ApplicationSpec{SyncPolicy: tt.policy}}
			assert.Equal(t, tt.automated, app.AutomatedSyncEnabled())
			assert.Equal(t, tt.prune, app.PruneEnabled())
			assert.Equal(t, tt.selfHeal, app.SelfHealEnabled())
		})
	}
}

func TestHealthPrecedence(t *testing.T) {
	// Degraded > Progressing > Missing > Unknown > Healthy
	assert.True(t, HealthDegraded.IsWorseThan(HealthProgressing))
	assert.True(t, HealthProgressing.IsWorseThan(HealthMissing))
	assert.True(t, HealthMissing.IsWorseThan(HealthUnknown))
	assert.True(t, HealthUnknown.IsWorseThan(HealthHealthy))

	assert.False(t, HealthHealthy.IsWorseThan(HealthDegraded))
	assert.False(t, HealthDegraded.IsWorseThan(HealthDegraded))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	orig := &Application{
		Spec: ApplicationSpec{
			SyncPolicy: SyncPolicy{Automated: &AutomatedSyncPolicy{Prune: true}},
		},
		Status: ApplicationStatus{
			History: []SyncResult{{ID: "a", Phase: SyncPhaseSucceeded}},
		},
	}

	cp := orig.DeepCopy()
	cp.Spec.SyncPolicy.Automated.Prune = false
	cp.Status.History[0].ID = "b"

	assert.True(t, orig.Spec.SyncPolicy.Automated.Prune)
	assert.Equal(t, "a", orig.Status.History[0].ID)
}
