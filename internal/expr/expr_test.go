package expr_test

import (
	"testing"

	"flywheel/internal/expr"
)

func ctx(status expr.Status, branch string) expr.Context {
	return expr.Context{
		Status: status,
		Vars: map[string]string{
			"branch":   branch,
			"event":    "push",
			"workflow": "tests",
		},
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		ctx       expr.Context
		want      bool
	}{
		{"empty defaults to success", "", ctx(expr.StatusSuccess, "main"), true},
		{"empty fails on failure", "", ctx(expr.StatusFailure, "main"), false},
		{"success()", "success()", ctx(expr.StatusSuccess, "main"), true},
		{"failure() on success", "failure()", ctx(expr.StatusSuccess, "main"), false},
		{"failure() on failure", "failure()", ctx(expr.StatusFailure, "main"), true},
		{"always() on failure", "always()", ctx(expr.StatusFailure, "main"), true},
		{"always() on cancelled", "always()", ctx(expr.StatusCancelled, "main"), true},
		{"cancelled()", "cancelled()", ctx(expr.StatusCancelled, "main"), true},
		{"branch equality", "branch == 'main'", ctx(expr.StatusSuccess, "main"), true},
		{"branch inequality", "branch != 'main'", ctx(expr.StatusSuccess, "2.x"), true},
		{"notify gate on main failure", "failure() && branch == 'main'", ctx(expr.StatusFailure, "main"), true},
		{"notify gate on other branch", "failure() && branch == 'main'", ctx(expr.StatusFailure, "2.x"), false},
		{"or combination", "branch == 'main' || branch == '2.x'", ctx(expr.StatusSuccess, "2.x"), true},
		{"negation", "!failure()", ctx(expr.StatusSuccess, "main"), true},
		{"parentheses", "(failure() || cancelled()) && event == 'push'", ctx(expr.StatusCancelled, "main"), true},
		{"event comparison", "event != 'schedule'", ctx(expr.StatusSuccess, "main"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := expr.Evaluate(tc.condition, tc.ctx)
			if err != nil {
				t.Fatalf("Evaluate(%q) returned error: %v", tc.condition, err)
			}
			if got != tc.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tc.condition, got, tc.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	cases := []struct {
		name      string
		condition string
	}{
		{"unknown function", "sometimes()"},
		{"unknown variable", "planet == 'mars'"},
		{"missing comparison", "branch"},
		{"unterminated string", "branch == 'main"},
		{"trailing garbage", "success() extra"},
		{"unbalanced paren", "(success()"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := expr.Evaluate(tc.condition, ctx(expr.StatusSuccess, "main")); err == nil {
				t.Fatalf("expected error for %q", tc.condition)
			}
		})
	}
}
