package main

import (
	"os"
	"testing"

	"github.com/orbitflow/taskdaemon/internal/timer"
)

func TestBuildScheduleAlternatesFocusAndBreakEndingInLongBreak(t *testing.T) {
	steps := buildSchedule(25, 5, 15, 4)
	if len(steps) != 8 {
		t.Fatalf("expected 4 focus + 4 break steps, got %d", len(steps))
	}
	for i, step := range steps {
		if i%2 == 0 && step.Type != timer.Focus {
			t.Fatalf("step %d = %v, want Focus", i, step.Type)
		}
	}
	last := steps[len(steps)-1]
	if last.Type != timer.LongBreak || last.DurationMs != 15*60_000 {
		t.Fatalf("last step = %+v, want a 15-minute LongBreak", last)
	}
}

func TestEnvIntFallsBackToDefault(t *testing.T) {
	os.Unsetenv("TASKDAEMON_TEST_ENV_INT")
	if got := envInt("TASKDAEMON_TEST_ENV_INT", 42); got != 42 {
		t.Fatalf("envInt with unset var = %d, want default 42", got)
	}
}

func TestEnvIntParsesValidValue(t *testing.T) {
	t.Setenv("TASKDAEMON_TEST_ENV_INT", "7")
	if got := envInt("TASKDAEMON_TEST_ENV_INT", 42); got != 7 {
		t.Fatalf("envInt = %d, want 7", got)
	}
}

func TestEnvIntRejectsNonPositiveOrInvalid(t *testing.T) {
	t.Setenv("TASKDAEMON_TEST_ENV_INT", "-5")
	if got := envInt("TASKDAEMON_TEST_ENV_INT", 42); got != 42 {
		t.Fatalf("envInt with negative value = %d, want fallback default 42", got)
	}
	t.Setenv("TASKDAEMON_TEST_ENV_INT", "notanumber")
	if got := envInt("TASKDAEMON_TEST_ENV_INT", 42); got != 42 {
		t.Fatalf("envInt with invalid value = %d, want fallback default 42", got)
	}
}
