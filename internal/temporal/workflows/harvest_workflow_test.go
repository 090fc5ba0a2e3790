package workflows

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	htemporal "github.com/helixir/citation-harvest-service/internal/temporal"
	"github.com/helixir/citation-harvest-service/internal/temporal/activities"
)

func newTestInput() HarvestWorkflowInput {
	return HarvestWorkflowInput{
		EditionID: uuid.New(),
		Scopes: []htemporal.HarvestScope{
			{YearLow: 1990, YearHigh: 1999, Expected: 500},
			{YearLow: 2000, YearHigh: 2009, Expected: 300},
		},
		RunRepair: true,
	}
}

func TestHarvestEditionWorkflow_Success(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	targetA := uuid.New()
	targetB := uuid.New()

	var act *activities.HarvestActivities

	env.OnActivity(act.ScheduleTarget, mock.Anything, activities.ScheduleTargetInput{
		EditionID: input.EditionID, YearLow: 1990, YearHigh: 1999, Expected: 500,
	}).Return(&activities.ScheduleTargetOutput{TargetID: targetA, Status: "pending"}, nil)
	env.OnActivity(act.ScheduleTarget, mock.Anything, activities.ScheduleTargetInput{
		EditionID: input.EditionID, YearLow: 2000, YearHigh: 2009, Expected: 300,
	}).Return(&activities.ScheduleTargetOutput{TargetID: targetB, Status: "pending"}, nil)

	env.OnActivity(act.ExecuteHarvest, mock.Anything, targetA).Return(&activities.HarvestTargetOutput{
		TargetID: targetA, Status: "complete", GapReason: "",
	}, nil)
	env.OnActivity(act.ExecuteHarvest, mock.Anything, targetB).Return(&activities.HarvestTargetOutput{
		TargetID: targetB, Status: "stalled", GapReason: "rate_limited",
	}, nil)

	env.OnActivity(act.RepairEdition, mock.Anything, input.EditionID).Return(&activities.RepairEditionOutput{
		CitationsRepointed: 3, DuplicatesFolded: 1, HarvestedCount: 812,
	}, nil)

	env.ExecuteWorkflow(HarvestEditionWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result HarvestWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, input.EditionID, result.EditionID)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "complete", result.Outcomes[0].Status)
	assert.Equal(t, "stalled", result.Outcomes[1].Status)
	assert.Equal(t, 1, result.Stalled)
	require.NotNil(t, result.Repair)
	assert.Equal(t, 3, result.Repair.CitationsRepointed)
}

func TestHarvestEditionWorkflow_SkipsCompleteTargets(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	input.Scopes = input.Scopes[:1]
	input.RunRepair = false
	targetA := uuid.New()

	var act *activities.HarvestActivities

	env.OnActivity(act.ScheduleTarget, mock.Anything, mock.Anything).
		Return(&activities.ScheduleTargetOutput{TargetID: targetA, Status: "complete"}, nil)

	env.ExecuteWorkflow(HarvestEditionWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result HarvestWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "complete", result.Outcomes[0].Status)
	env.AssertNotCalled(t, "ExecuteHarvest", mock.Anything, mock.Anything)
}

func TestHarvestEditionWorkflow_ResetSignal(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	input.Scopes = input.Scopes[:1]
	input.RunRepair = false
	targetA := uuid.New()

	var act *activities.HarvestActivities

	env.OnActivity(act.ScheduleTarget, mock.Anything, mock.Anything).
		Return(&activities.ScheduleTargetOutput{TargetID: targetA, Status: "pending"}, nil)

	env.OnActivity(act.ExecuteHarvest, mock.Anything, targetA).Return(&activities.HarvestTargetOutput{
		TargetID: targetA, Status: "stalled", GapReason: "rate_limited",
	}, nil).Once()
	env.OnActivity(act.ResetTarget, mock.Anything, targetA).Return(nil)
	env.OnActivity(act.ExecuteHarvest, mock.Anything, targetA).Return(&activities.HarvestTargetOutput{
		TargetID: targetA, Status: "complete",
	}, nil).Once()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResetTarget, ResetSignal{TargetID: targetA, RequestedBy: "operator"})
	}, time.Minute)

	env.ExecuteWorkflow(HarvestEditionWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result HarvestWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 1, result.ResetsHandled)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "complete", result.Outcomes[0].Status)
	assert.Zero(t, result.Stalled)
}

func TestHarvestEditionWorkflow_ScheduleFailureFailsWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()

	var act *activities.HarvestActivities
	env.OnActivity(act.ScheduleTarget, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	env.ExecuteWorkflow(HarvestEditionWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}
