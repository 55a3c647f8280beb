// Package verify checks every chunk stored in a cache repository.
//
// Each chunk is decoded and re-hashed by a pool of workers. A damaged chunk
// is recorded and the run goes on, so one pass reports every failure.
//
// Example usage:
//
//	checker := verify.NewChecker(cache, verify.DefaultConfig())
//	report, err := checker.Run(ctx)
//	if err != nil {
//		return err
//	}
//	if !report.OK() {
//		for _, f := range report.Failures {
//			log.Error().Str("digest", f.Digest.String()).Err(f.Err).Msg("Damaged chunk")
//		}
//	}
//
// Verification only reads. Repair is left to the operator.
package verify
