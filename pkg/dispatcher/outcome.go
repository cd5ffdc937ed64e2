// Package dispatcher maps task names to handlers and applies the shared
// per-task discipline: obsolescence rejection, transient-vs-permanent error
// classification, and error projection onto entity status (spec.md §4.3, §9).
package dispatcher

// Kind classifies how a handler's outcome should be treated by the dispatch
// loop. Handlers never throw to signal retry; they return an Outcome (spec.md
// §9's design note: discriminated result in place of exceptions crossing a
// task boundary).
type Kind int

const (
	// Done indicates the handler completed successfully.
	Done Kind = iota
	// Retry indicates cooperative suspension: the message should be
	// republished with delay (spec.md's TaskDelay primitive).
	Retry
	// Permanent indicates a failure that will not resolve on redelivery;
	// the message is dead-lettered and the target entity's status is set
	// to ERROR with Reason.
	Permanent
)

// Outcome is the result of a single handler invocation.
type Outcome struct {
	Kind   Kind
	Reason string
	// Classified distinguishes the two Permanent sub-cases (spec.md §9):
	// a classified failure (image-not-found, VM-not-found) is acked once
	// its status is projected, since redelivery cannot help; an
	// unclassified failure is nacked without requeue so the Retry
	// Collector keeps reinjecting it until the absolute age timeout.
	// Meaningless for any Kind other than Permanent.
	Classified bool
}

// OutcomeDone reports successful completion.
func OutcomeDone() Outcome { return Outcome{Kind: Done} }

// OutcomeRetry requests delayed redelivery with the given human-readable reason.
func OutcomeRetry(reason string) Outcome { return Outcome{Kind: Retry, Reason: reason} }

// OutcomePermanent reports an unclassified non-retryable failure: the
// message is still nacked without requeue, so the Retry Collector keeps
// reinjecting it until it ages out.
func OutcomePermanent(reason string) Outcome { return Outcome{Kind: Permanent, Reason: reason} }

// OutcomePermanentClassified reports a classified non-retryable failure
// (image-not-found, VM-not-found): status is projected and the message is
// acked, since no amount of redelivery will resolve it.
func OutcomePermanentClassified(reason string) Outcome {
	return Outcome{Kind: Permanent, Reason: reason, Classified: true}
}
