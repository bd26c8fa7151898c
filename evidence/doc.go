// Package evidence accumulates the learnt harmonic mean estimator of the
// Bayesian model evidence (marginal likelihood) from posterior chains and
// a fitted importance distribution.
//
// The accumulator keeps one scalar log-mean-ratio and one sample count
// per chain; raw samples are discarded as soon as a chain has been
// consumed, so memory stays bounded regardless of how many samples were
// drawn and snapshots stay cheap. All combination happens in log space
// through log-sum-exp, which absorbs the negative infinities produced by
// samples falling outside the model's support.
//
// Chains are the unit of statistical independence: the error estimate is
// derived from the between-chain spread of the per-chain mean ratios,
// never from raw per-sample variation.
package evidence
