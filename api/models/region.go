package models

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region is an oriented quadrilateral reported by the detector. Point order is
// whatever the detector produced.
type Region struct {
	Points [4]Point `json:"points"`
}
