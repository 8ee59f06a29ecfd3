package retry

import (
	"testing"
	"time"
)

func TestGeneratePlan(t *testing.T) {
	now := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

	policy := BackoffPolicy{
		PolicyID:    "drand-default",
		BaseMs:      100,
		MaxMs:       30000,
		MaxJitterMs: 0, // disabled for deterministic delay checks
		MaxAttempts: 5,
	}
	params := BackoffParams{
		Component:   "drand",
		OperationID: "case-1",
		SeedHash:    "hash123",
	}

	plan := GeneratePlan(params, policy, now)

	if len(plan.Schedule) != 5 {
		t.Fatalf("schedule length = %d, want 5", len(plan.Schedule))
	}
	if plan.Schedule[0].DelayMs != 0 || !plan.Schedule[0].ScheduledAt.Equal(now) {
		t.Errorf("attempt 0 = %+v, want zero delay at %v", plan.Schedule[0], now)
	}

	want1 := now.Add(200 * time.Millisecond)
	if plan.Schedule[1].DelayMs != 200 || !plan.Schedule[1].ScheduledAt.Equal(want1) {
		t.Errorf("attempt 1 = %+v, want 200ms at %v", plan.Schedule[1], want1)
	}

	want2 := want1.Add(400 * time.Millisecond)
	if plan.Schedule[2].DelayMs != 400 || !plan.Schedule[2].ScheduledAt.Equal(want2) {
		t.Errorf("attempt 2 = %+v, want 400ms at %v", plan.Schedule[2], want2)
	}
}

func TestComputeDeterministicJitter(t *testing.T) {
	policy := BackoffPolicy{PolicyID: "p1", MaxJitterMs: 1000}
	params := BackoffParams{Component: "seal", OperationID: "job-1", SeedHash: "h1"}

	j1 := ComputeDeterministicJitter(params, policy)
	j2 := ComputeDeterministicJitter(params, policy)
	if j1 != j2 {
		t.Errorf("jitter not deterministic: %d vs %d", j1, j2)
	}

	other := params
	other.OperationID = "job-2"
	j3 := ComputeDeterministicJitter(other, policy)
	if j3 == j1 {
		t.Logf("jitter collision across distinct operation ids (acceptable, but worth noting)")
	}
	if j1 < 0 || j1 >= 1000 {
		t.Errorf("jitter %d out of [0,1000) range", j1)
	}
}
