// Package geo provides great-circle math over WGS 84 coordinates.
package geo

import (
    "errors"
    "math"
)

const earthRadiusMeters = 6371000

// ErrInvalidCoordinate is returned when a latitude/longitude pair is
// non-finite or zero. Zero is treated as "unset" by upstream convention,
// not as the equator/meridian.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

func valid(lat, lng float64) bool {
    if lat == 0 || lng == 0 {
        return false
    }
    if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
        return false
    }
    return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// DistanceMeters returns the haversine great-circle distance between two points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) (float64, error) {
    if !valid(lat1, lng1) || !valid(lat2, lng2) {
        return 0, ErrInvalidCoordinate
    }
    dLat := toRad(lat2 - lat1)
    dLng := toRad(lng2 - lng1)
    a := math.Sin(dLat/2)*math.Sin(dLat/2) +
        math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
    return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)), nil
}

// BearingDegrees returns the initial bearing from the first point to the
// second, normalized to [0, 360). Presentation only; detection never uses it.
func BearingDegrees(lat1, lng1, lat2, lng2 float64) (float64, error) {
    if !valid(lat1, lng1) || !valid(lat2, lng2) {
        return 0, ErrInvalidCoordinate
    }
    phi1 := toRad(lat1)
    phi2 := toRad(lat2)
    dLng := toRad(lng2 - lng1)
    y := math.Sin(dLng) * math.Cos(phi2)
    x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
    deg := math.Atan2(y, x) * 180 / math.Pi
    return math.Mod(deg+360, 360), nil
}

func toRad(deg float64) float64 {
    return deg * math.Pi / 180
}
