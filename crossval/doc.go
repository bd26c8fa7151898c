// Package crossval scores candidate importance-distribution
// configurations by cross-validation over whole chains.
//
// The chains are shuffled once with the caller's random source and cut
// into k folds. For every candidate and fold, a fresh model is fitted on
// the chains outside the fold and scored on the chains inside it by the
// between-chain variance of the accumulated ln(1/Z) estimate — the same
// quantity that drives the estimator's error bar. Candidate/fold pairs
// run concurrently; each evaluation owns an independent accumulator, so
// no synchronization is needed beyond collecting the scores.
package crossval
