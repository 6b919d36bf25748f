package kepler

import "math"

// SolverIterations is the fixed number of Newton steps taken per solve.
// Six steps hold |E - e·sin E - M| below 1e-9 for e up to about 0.9.
const SolverIterations = 6

// SolveEccentricAnomaly solves Kepler's equation M = E - e·sin E for E.
//
// Newton-Raphson from E₀ = M with exactly SolverIterations steps and no
// convergence test. M may be any real value; neither M nor the result is
// wrapped into [0, 2π).
func SolveEccentricAnomaly(meanAnomaly, eccentricity float64) float64 {
	E := meanAnomaly
	for i := 0; i < SolverIterations; i++ {
		f := E - eccentricity*math.Sin(E) - meanAnomaly
		fp := 1 - eccentricity*math.Cos(E)
		E -= f / fp
	}
	return E
}

// Residual returns E - e·sin E - M, zero for an exact solution.
func Residual(eccentricAnomaly, meanAnomaly, eccentricity float64) float64 {
	return eccentricAnomaly - eccentricity*math.Sin(eccentricAnomaly) - meanAnomaly
}

// TrueAnomaly converts an eccentric anomaly to the true anomaly using the
// half-angle form, which stays well conditioned near the apsides.
// For E in (-π, π] the result lies in (-π, π] in the same half-plane as E;
// other E give an angle off the principal value by a multiple of 2π.
func TrueAnomaly(eccentricAnomaly, eccentricity float64) float64 {
	sinHalf, cosHalf := math.Sincos(eccentricAnomaly / 2)
	return 2 * math.Atan2(math.Sqrt(1+eccentricity)*sinHalf, math.Sqrt(1-eccentricity)*cosHalf)
}
