// Package model provides the learnt importance distributions used to
// stabilize the harmonic mean evidence estimator.
//
// A Model is a fittable, normalized density whose support is confined to
// a bounded region chosen to sit inside the bulk of the posterior mass.
// Concrete variants differ in functional form but share one capability
// set: Fit on training samples, LnPredict for log-density evaluation, and
// an escape hatch for assigning a precomputed normalizing constant.
//
// Variants:
//
//   - HyperSphere: uniform density over an ellipsoid centered at the
//     training sample mean, with the radius learnt by a 1-D bracketed
//     search. The reference variant.
//   - KernelDensity: a uniform-ball kernel density estimate over the
//     training samples, backed by a spatial hash grid.
//
// Evaluating LnPredict outside a model's support returns negative
// infinity. This is a normal, frequent outcome, not an error; the
// evidence accumulator absorbs it arithmetically.
package model
