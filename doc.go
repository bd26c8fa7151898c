// Package harmonic estimates the Bayesian model evidence (marginal
// likelihood) from posterior samples with the learnt harmonic mean
// estimator.
//
// The classical harmonic mean estimator averages prior-to-posterior
// ratios and has infinite variance. The learnt variant replaces the
// prior with a normalized importance distribution of bounded support,
// fitted to a held-out portion of the posterior samples, which restores
// finite variance while keeping the estimator consistent.
//
// The building blocks live in subpackages: chains (sample container),
// model (importance distributions), evidence (the accumulator),
// checkpoint and blobstore (resumable state), crossval (hyperparameter
// scoring). This package ties them together behind an Estimator:
//
//	est, err := harmonic.NewEstimator(2)
//	if err != nil { ... }
//	if err := est.AddSamples3D(samples, lnPosterior); err != nil { ... }
//	result, err := est.Run(context.Background())
//	if err != nil { ... }
//	fmt.Println(result.LnEvidence, result.LnEvidenceStd)
package harmonic
