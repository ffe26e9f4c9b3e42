package core

import "math"

// Vector2 is a point on the map plane in meters. X is north, Y is east.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector3 is a point in space in meters. Y is altitude above sea level.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// V2 is shorthand for building a Vector2.
func V2(x, y float64) Vector2 { return Vector2{X: x, Y: y} }

func (v Vector2) Add(o Vector2) Vector2     { return Vector2{v.X + o.X, v.Y + o.Y} }
func (v Vector2) Sub(o Vector2) Vector2     { return Vector2{v.X - o.X, v.Y - o.Y} }
func (v Vector2) Scale(f float64) Vector2   { return Vector2{v.X * f, v.Y * f} }
func (v Vector2) Length() float64           { return math.Hypot(v.X, v.Y) }
func (v Vector2) DistanceSq(o Vector2) float64 {
	dx, dy := v.X-o.X, v.Y-o.Y
	return dx*dx + dy*dy
}

// Distance returns the euclidean distance between two points.
func (v Vector2) Distance(o Vector2) float64 { return math.Sqrt(v.DistanceSq(o)) }

// Rotate rotates v by angle radians around the origin.
func (v Vector2) Rotate(angle float64) Vector2 {
	s, c := math.Sincos(angle)
	return Vector2{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c}
}

// Unit returns v scaled to length 1, or the zero vector.
func (v Vector2) Unit() Vector2 {
	l := v.Length()
	if l == 0 {
		return Vector2{}
	}
	return v.Scale(1 / l)
}

// Heading returns the azimuth of v in radians.
func (v Vector2) Heading() float64 {
	h := math.Atan2(v.Y, v.X)
	if h < 0 {
		h += 2 * math.Pi
	}
	return h
}

// Flat projects a 3d point onto the map plane.
func (v Vector3) Flat() Vector2 { return Vector2{X: v.X, Y: v.Z} }

func (v Vector3) Add(o Vector3) Vector3   { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Scale(f float64) Vector3 { return Vector3{v.X * f, v.Y * f, v.Z * f} }

// Length is the magnitude of v.
func (v Vector3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
