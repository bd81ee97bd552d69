package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whatsapp-platform/internal/store/model"
)

func TestStepCapDefaultsWhenUnset(t *testing.T) {
	ip := &Interpreter{}
	assert.Equal(t, DefaultStepCap, ip.stepCap())

	ip.StepCap = 5
	assert.Equal(t, 5, ip.stepCap())
}

func TestWithinWorkingHoursUnsetPolicyAlwaysOpen(t *testing.T) {
	ip := &Interpreter{}
	assert.True(t, ip.withinWorkingHours(model.WorkingHoursPolicy{}))
}

func TestWithinWorkingHoursUnknownTimezoneFailsOpen(t *testing.T) {
	ip := &Interpreter{}
	assert.True(t, ip.withinWorkingHours(model.WorkingHoursPolicy{Timezone: "Not/A_Real_Zone"}))
}

func TestSuspendsOnlyInputAwaitingTypes(t *testing.T) {
	assert.True(t, Suspends("wait"))
	assert.True(t, Suspends("button"))
	assert.True(t, Suspends("list"))
	assert.True(t, Suspends("flow"))
	assert.False(t, Suspends("message"))
	assert.False(t, Suspends("condition"))
}
