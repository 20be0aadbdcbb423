package geo

import "math"

const earthRadiusM = 6371000.0

// Distance returns the great-circle distance in meters between two
// coordinates using the haversine formula. Good to well under a meter at
// geofence scale, which is all the mission checks need.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// SpeedMps returns the implied speed in meters per second for covering the
// distance between two coordinates in elapsedSec. Non-positive elapsed time
// yields +Inf so callers treat it as implausible.
func SpeedMps(lat1, lng1, lat2, lng2, elapsedSec float64) float64 {
	if elapsedSec <= 0 {
		return math.Inf(1)
	}
	return Distance(lat1, lng1, lat2, lng2) / elapsedSec
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
