package lifecycle

import "testing"

func TestValidate_Table(t *testing.T) {
	cases := []struct {
		name         string
		from, to     Status
		reason, perm bool
		want         Verdict
	}{
		{"pending starts evaluation", StatusPending, StatusEvaluating, false, false, VerdictValid},
		{"pending cancel needs reason", StatusPending, StatusCancelled, false, false, VerdictRequiresReason},
		{"pending cancel with reason", StatusPending, StatusCancelled, true, false, VerdictValid},
		{"evaluating approves", StatusEvaluating, StatusApproved, false, false, VerdictValid},
		{"evaluating denies", StatusEvaluating, StatusDenied, false, false, VerdictValid},
		{"evaluating escalates", StatusEvaluating, StatusEscalated, false, false, VerdictValid},
		{"evaluating fails", StatusEvaluating, StatusFailed, false, false, VerdictValid},
		{"escalated approve needs permission", StatusEscalated, StatusApproved, false, false, VerdictRequiresPermission},
		{"escalated approve with permission", StatusEscalated, StatusApproved, false, true, VerdictValid},
		{"escalated deny with permission", StatusEscalated, StatusDenied, false, true, VerdictValid},
		{"escalated cancel with reason", StatusEscalated, StatusCancelled, true, false, VerdictValid},
		{"approved starts execution", StatusApproved, StatusExecuting, false, false, VerdictValid},
		{"executing completes", StatusExecuting, StatusCompleted, false, false, VerdictValid},
		{"executing fails", StatusExecuting, StatusFailed, false, false, VerdictValid},
		{"denied replay needs permission", StatusDenied, StatusPending, false, false, VerdictRequiresPermission},
		{"denied replay with permission", StatusDenied, StatusPending, false, true, VerdictValid},
		{"failed retry with permission", StatusFailed, StatusPending, false, true, VerdictValid},
		{"completed is terminal", StatusCompleted, StatusPending, true, true, VerdictTerminalState},
		{"cancelled is terminal", StatusCancelled, StatusEvaluating, true, true, VerdictTerminalState},
		{"pending cannot jump to completed", StatusPending, StatusCompleted, true, true, VerdictInvalidTransition},
		{"evaluating cannot execute", StatusEvaluating, StatusExecuting, false, false, VerdictInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Validate(tc.from, tc.to, tc.reason, tc.perm); got != tc.want {
				t.Errorf("Validate(%s, %s, %v, %v) = %s, want %s",
					tc.from, tc.to, tc.reason, tc.perm, got, tc.want)
			}
		})
	}
}

func TestEventTypeFor(t *testing.T) {
	cases := map[[2]Status]string{
		{StatusPending, StatusEvaluating}:   "intent.evaluation.started",
		{StatusEvaluating, StatusApproved}:  "intent.approved",
		{StatusEvaluating, StatusEscalated}: "intent.escalated",
		{StatusExecuting, StatusCompleted}:  "intent.completed",
		{StatusDenied, StatusPending}:       "intent.replayed",
		{StatusFailed, StatusPending}:       "intent.retried",
		{StatusApproved, StatusCancelled}:   "intent.cancelled",
	}
	for pair, want := range cases {
		got, err := EventTypeFor(pair[0], pair[1])
		if err != nil {
			t.Fatalf("EventTypeFor(%s, %s): %v", pair[0], pair[1], err)
		}
		if got != want {
			t.Errorf("EventTypeFor(%s, %s) = %s, want %s", pair[0], pair[1], got, want)
		}
	}
	if _, err := EventTypeFor(StatusCompleted, StatusPending); err == nil {
		t.Error("terminal source should have no event type")
	}
}

func TestStatusHelpers(t *testing.T) {
	if !Status("pending").IsValid() || Status("bogus").IsValid() {
		t.Error("IsValid misclassifies statuses")
	}
	if !StatusCompleted.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Error("completed and cancelled are terminal")
	}
	if StatusFailed.IsTerminal() {
		t.Error("failed is retryable, not terminal")
	}

	want := []Status{StatusPending, StatusEvaluating, StatusEscalated, StatusExecuting}
	if len(ActiveStatuses) != len(want) {
		t.Fatalf("ActiveStatuses = %v, want %v", ActiveStatuses, want)
	}
	for i, s := range want {
		if ActiveStatuses[i] != s {
			t.Errorf("ActiveStatuses[%d] = %s, want %s", i, ActiveStatuses[i], s)
		}
	}

	targets := AllowedTargets(StatusEvaluating)
	if len(targets) != 5 {
		t.Errorf("evaluating should have 5 targets, got %v", targets)
	}
	if len(AllowedTargets(StatusCompleted)) != 0 {
		t.Error("terminal states have no targets")
	}
}
