// Package testutil builds synthetic clouds and exact answers for tests.
//
//	rng := testutil.NewRNG(42)
//	pts := rng.UniformPoints(1000, box)
//	want := testutil.BruteForceKNN(testutil.Positions(pts, offset), q, k)
package testutil
