package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/verify"
)

// Check is a predicate waiting to be retried.
type Check struct {
	rt    *Runtime
	pred  verify.Predicate
	label string
}

// Check prepares pred for a retry loop.
func (r *Runtime) Check(pred verify.Predicate, label string) *Check {
	return &Check{rt: r, pred: pred, label: label}
}

func (r *Runtime) confident(conf float64, has bool, min *float64) bool {
	if min == nil {
		return true
	}
	if !has {
		return r.policy == ConfidenceTrust
	}
	return conf >= *min
}

// Eventually re-snapshots and re-evaluates until the predicate passes on a
// confident snapshot, attempts run out, or the timeout elapses. Only the
// final result is recorded. The error is non-nil only when the provider
// fails or ctx ends; the step cannot continue in either case.
func (c *Check) Eventually(ctx context.Context, opts EventuallyOptions) (bool, error) {
	r := c.rt
	if opts.Timeout <= 0 {
		opts.Timeout = r.defaults.Timeout
	}
	if opts.Done {
		opts.Required = true
	}

	start := r.now()
	attempts := 0
	var (
		last     *verify.Outcome
		lastConf *float64
	)

	finalFail := func(code, reason string) {
		d := verify.EventuallyDetails{
			ReasonCode:     code,
			Attempts:       attempts,
			MaxAttempts:    opts.MaxSnapshotAttempts,
			Elapsed:        r.now().Sub(start),
			MinConfidence:  opts.MinConfidence,
			LastConfidence: lastConf,
		}
		if last != nil {
			d.Last = verify.DetailsMap(last.Details)
			reason = reason + ": " + last.Reason
		}
		r.record(c.label, verify.Outcome{Passed: false, Reason: reason, Details: d}, opts.Required)
	}

	for {
		if r.now().Sub(start) >= opts.Timeout {
			finalFail(verify.ReasonTimeout, fmt.Sprintf("timed out after %s (%d snapshot(s))", opts.Timeout, attempts))
			return false, nil
		}

		snap, err := r.Snapshot(ctx, opts.Snapshot)
		if err != nil {
			return false, err
		}
		attempts++

		conf, has := snap.Confidence()
		if has {
			cv := conf
			lastConf = &cv
		}
		if !r.confident(conf, has, opts.MinConfidence) {
			r.log.Debug("snapshot below confidence gate",
				zap.String("label", c.label),
				zap.Int("attempt", attempts),
				zap.Bool("has_confidence", has),
				zap.Float64("confidence", conf))
		} else {
			out := verify.Evaluate(c.pred, r.assertContext(ctx))
			if out.Passed {
				out.Details = verify.EventuallyDetails{
					Attempts:       attempts,
					MaxAttempts:    opts.MaxSnapshotAttempts,
					Elapsed:        r.now().Sub(start),
					MinConfidence:  opts.MinConfidence,
					LastConfidence: lastConf,
					Last:           verify.DetailsMap(out.Details),
				}
				r.record(c.label, out, opts.Required)
				if opts.Done {
					r.mu.Lock()
					r.taskDone = true
					r.mu.Unlock()
				}
				return true, nil
			}
			last = &out
		}

		// Out of attempts: stop now rather than sleep into the deadline.
		if opts.MaxSnapshotAttempts > 0 && attempts >= opts.MaxSnapshotAttempts {
			finalFail(verify.ReasonSnapshotExhausted, fmt.Sprintf("%d snapshot attempt(s) exhausted without a confident pass", attempts))
			return false, nil
		}
		if err := r.sleep(ctx, opts.PollInterval); err != nil {
			return false, err
		}
	}
}
