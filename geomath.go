package mjolnir

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	earthRadiusMeters = 6370986.884258304
	pi180             = math.Pi / 180.0
	pi180Rev          = 180.0 / math.Pi
)

// degreesToRadians r = deg * pi / 180
func degreesToRadians(d float64) float64 {
	return d * pi180
}

// radiansToDegrees deg = r * 180 / pi
func radiansToDegrees(d float64) float64 {
	return d * pi180Rev
}

// greatCircleDistance returns distance between two geo-points (meters).
// Points are orb.Point{lon, lat}.
func greatCircleDistance(p, q orb.Point) float64 {
	lat1 := degreesToRadians(p.Lat())
	lon1 := degreesToRadians(p.Lon())
	lat2 := degreesToRadians(q.Lat())
	lon2 := degreesToRadians(q.Lon())
	diffLat := lat2 - lat1
	diffLon := lon2 - lon1
	a := math.Pow(math.Sin(diffLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(diffLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return c * earthRadiusMeters
}

// polylineLength returns length of given line (meters)
func polylineLength(line []orb.Point) float64 {
	totalLength := 0.0
	if len(line) < 2 {
		return totalLength
	}
	for i := 1; i < len(line); i++ {
		totalLength += greatCircleDistance(line[i-1], line[i])
	}
	return totalLength
}

// metersPerLngDegree returns the east-west extent of one degree of longitude
// at the given latitude (meters).
func metersPerLngDegree(lat float64) float64 {
	return math.Cos(degreesToRadians(lat)) * earthRadiusMeters * pi180
}

// closestPoint projects pt onto the polyline and returns the closest point,
// the distance to it (meters) and the index of the segment start vertex.
// Projection is done in plate-carree space which is fine at street scale.
func closestPoint(pt orb.Point, line []orb.Point) (orb.Point, float64, int) {
	if len(line) == 0 {
		return orb.Point{}, math.Inf(1), -1
	}
	if len(line) == 1 {
		return line[0], greatCircleDistance(pt, line[0]), 0
	}
	best := line[0]
	bestDist := math.Inf(1)
	bestIdx := 0
	for i := 1; i < len(line); i++ {
		candidate := projectOnSegment(pt, line[i-1], line[i])
		dist := greatCircleDistance(pt, candidate)
		if dist < bestDist {
			best = candidate
			bestDist = dist
			bestIdx = i - 1
		}
	}
	return best, bestDist, bestIdx
}

// projectOnSegment returns the point of segment [p, q] nearest to pt
// (assuming points are Euclidean: Lon == X, Lat == Y)
func projectOnSegment(pt, p, q orb.Point) orb.Point {
	dx := q.Lon() - p.Lon()
	dy := q.Lat() - p.Lat()
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return p
	}
	t := ((pt.Lon()-p.Lon())*dx + (pt.Lat()-p.Lat())*dy) / lenSq
	if t < 0 {
		return p
	}
	if t > 1 {
		return q
	}
	return orb.Point{p.Lon() + t*dx, p.Lat() + t*dy}
}

// reverseLine reverses order of points in given line. Returns new slice
func reverseLine(pts []orb.Point) []orb.Point {
	inputLen := len(pts)
	output := make([]orb.Point, inputLen)
	for i, n := range pts {
		j := inputLen - i - 1
		output[j] = n
	}
	return output
}

// copyLine returns a copy of the given line
func copyLine(pts []orb.Point) []orb.Point {
	output := make([]orb.Point, len(pts))
	copy(output, pts)
	return output
}
