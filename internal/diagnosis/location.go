package diagnosis

import "github.com/golang/geo/s2"

const maxCellLevel = 30

// SnapToCell returns the center of the level-`level` S2 cell containing
// (lat, lon). Level 13 cells are roughly 1 km across.
func SnapToCell(lat, lon float64, level int) (float64, float64) {
	if level <= 0 {
		return lat, lon
	}
	if level > maxCellLevel {
		level = maxCellLevel
	}
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(level)
	ll := cell.LatLng()
	return ll.Lat.Degrees(), ll.Lng.Degrees()
}
