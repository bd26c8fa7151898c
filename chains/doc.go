// Package chains provides the container for posterior samples produced by
// an external MCMC sampler.
//
// A Chains value holds one or more independent chains of sample positions
// together with their log-posterior values. Chains are append-only: whole
// chains can be added (either as a rectangular 3-D block or one ragged
// chain at a time) and two containers of equal dimension can be
// concatenated, but individual samples are never removed or mutated.
//
// Splitting partitions whole chains, never individual samples, so that
// within-chain autocorrelation structure is preserved and the resulting
// training and inference partitions stay statistically independent.
package chains
