// Command recalcctl enqueues a recalculation job by hand, for operators
// recovering from a bad formula deploy or backfilling a date range (spec
// §4.7, §6), grounded on the operator enqueue script for the pipeline
// this replaces.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/fleetpulse/telemetry-core/internal/config"
	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/engine/pgstore"
	"github.com/fleetpulse/telemetry-core/internal/engine/recalc"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

const dateLayout = "2006-01-02"

func main() {
	jobKind := pflag.String("job-kind", "recompute_violations", "recompute_violations | refresh_single_view | refresh_all_views")
	trigger := pflag.String("trigger", "manual", "manual | formula_version_change")
	scopeIdentity := pflag.String("scope-identity", "", "restrict to one device identity")
	scopeTenant := pflag.String("scope-tenant", "", "restrict to one tenant")
	scopeDateFrom := pflag.String("scope-date-from", "", "restrict to records on/after this date (YYYY-MM-DD)")
	scopeDateTo := pflag.String("scope-date-to", "", "restrict to records on/before this date (YYYY-MM-DD)")
	reason := pflag.String("reason", "", "free-text reason, required for refresh_single_view (names the view)")
	priority := pflag.Int("priority", 2, "lower claims first")
	pflag.Parse()

	kind, err := parseJobKind(*jobKind)
	if err != nil {
		fail(err)
	}
	trig, err := parseTrigger(*trigger)
	if err != nil {
		fail(err)
	}

	resolvedReason := *reason
	switch kind {
	case model.JobRefreshSingleView:
		if resolvedReason == "" {
			fail(fmt.Errorf("--reason is required for refresh_single_view (names the view to refresh)"))
		}
	case model.JobRefreshAllViews:
		if resolvedReason == "" {
			resolvedReason = "all"
		}
	case model.JobRecomputeViolations:
		if resolvedReason == "" && trig == model.TriggerFormulaVersionChange {
			resolvedReason = "formula:all"
		}
	}

	scope := model.JobScope{Identity: *scopeIdentity, Tenant: *scopeTenant}
	if *scopeDateFrom != "" {
		t, err := time.Parse(dateLayout, *scopeDateFrom)
		if err != nil {
			fail(fmt.Errorf("--scope-date-from: %w", err))
		}
		scope.DateFrom = &t
	}
	if *scopeDateTo != "" {
		t, err := time.Parse(dateLayout, *scopeDateTo)
		if err != nil {
			fail(fmt.Errorf("--scope-date-to: %w", err))
		}
		scope.DateTo = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load(nil)
	if err != nil {
		fail(fmt.Errorf("load config: %w", err))
	}

	db, err := dbx.Open(ctx, cfg.Database, 5, 30*time.Second)
	if err != nil {
		fail(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()

	store := pgstore.NewRecalcStore(db)
	id, err := recalc.Enqueue(ctx, store, kind, trig, scope, resolvedReason, *priority)
	if err != nil {
		fail(fmt.Errorf("enqueue: %w", err))
	}

	fmt.Printf("job_id=%d\n", id)
}

func parseJobKind(s string) (model.JobKind, error) {
	switch model.JobKind(s) {
	case model.JobRecomputeViolations, model.JobRefreshSingleView, model.JobRefreshAllViews:
		return model.JobKind(s), nil
	default:
		return "", fmt.Errorf("--job-kind: unknown kind %q", s)
	}
}

func parseTrigger(s string) (model.JobTrigger, error) {
	switch model.JobTrigger(s) {
	case model.TriggerManual, model.TriggerFormulaVersionChange:
		return model.JobTrigger(s), nil
	default:
		return "", fmt.Errorf("--trigger: unknown trigger %q (must be manual or formula_version_change)", s)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "recalcctl:", err)
	os.Exit(1)
}
