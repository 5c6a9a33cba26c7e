// Package terrain evaluates the procedural height and river field shared by the
// physics surface, the rendered mesh and object placement.
package terrain

import "math"

const (
	// BankWidth is the lateral distance from the river centerline over which the
	// terrain blends down into the riverbed.
	BankWidth = 35.0
	// RiverBand is the half width classified as water by IsRiver.
	RiverBand = 10.0
	// BedDepth is how far the riverbed sits below the water surface.
	BedDepth = 4.0
	// FlattenRadius bounds the spawn clearing around the world origin.
	FlattenRadius = 100.0
	// InnerRadius is the fully flat disc at the spawn point.
	InnerRadius = 20.0
	// FalloffSlope raises terrain linearly beyond FlattenRadius.
	FalloffSlope = 0.15
	// MinHeight is the global floor of the field.
	MinHeight = 0.5
	// InnerFloor is the floor applied inside the spawn clearing.
	InnerFloor = 1.0

	riverOffset   = 250.0
	riverSwing    = 100.0
	riverWiggle   = 20.0
	surfaceOrigin = 20.0
	surfaceDrop   = 30.0
	surfaceSpan   = 600.0
)

// Noise returns the layered sinusoidal relief before any river or spawn shaping.
func Noise(x, z float64) float64 {
	h := (math.Sin(x*0.01) + math.Cos(z*0.01)) * 15
	h += math.Sin(x*0.03+1.5) * math.Cos(z*0.025+0.5) * 10
	h += (math.Sin(x*0.1) + math.Cos(z*0.08)) * 2
	h += math.Sin(x*0.2) * math.Cos(z*0.2)
	ridge := math.Abs(math.Sin(x*0.005) * math.Cos(z*0.005))
	h += ridge * ridge * 40
	return h
}

// RiverCenterline returns the x coordinate of the river at depth z.
func RiverCenterline(z float64) float64 {
	return riverOffset + math.Sin(z*0.005)*riverSwing + math.Sin(z*0.02)*riverWiggle
}

// RiverSurfaceY returns the water surface elevation at depth z. It never increases with z.
func RiverSurfaceY(z float64) float64 {
	return surfaceOrigin - (z/surfaceSpan)*surfaceDrop
}

// IsRiver reports whether (x, z) lies inside the water band of the river.
func IsRiver(x, z float64) bool {
	return math.Abs(x-RiverCenterline(z)) < RiverBand
}

// Height evaluates the terrain elevation at world coordinate (x, z). It is pure,
// total over finite inputs and never returns less than MinHeight.
func Height(x, z float64) float64 {
	//1.- Start from the layered relief and shape the spawn clearing or the outer rise.
	h := Noise(x, z)
	dist := math.Hypot(x, z)
	if dist < FlattenRadius {
		factor := math.Max(0, (dist-InnerRadius)/(FlattenRadius-InnerRadius))
		h *= factor * factor
		if h < InnerFloor {
			h = InnerFloor
		}
	} else {
		h += (dist - FlattenRadius) * FalloffSlope
	}

	//2.- Carve the river valley so the centerline reaches the bed exactly. The carve runs
	// after the spawn shaping rather than before it: the river never comes within
	// FlattenRadius, so the only shaping it meets is the outer rise, and adding that rise
	// on top of a finished carve would lift the bed above the water surface.
	lateral := math.Abs(x - RiverCenterline(z))
	if lateral < BankWidth {
		bed := RiverSurfaceY(z) - BedDepth
		blend := smoothstep(lateral / BankWidth)
		h = bed + (h-bed)*blend
	}

	//3.- Clamp to the global floor.
	if h < MinHeight {
		h = MinHeight
	}
	return h
}

func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Parameters exposes the tuning constants of the field, keyed by name.
func Parameters() map[string]float64 {
	return map[string]float64{
		"bank_width":     BankWidth,
		"river_band":     RiverBand,
		"bed_depth":      BedDepth,
		"flatten_radius": FlattenRadius,
		"inner_radius":   InnerRadius,
		"falloff_slope":  FalloffSlope,
		"min_height":     MinHeight,
		"inner_floor":    InnerFloor,
		"river_offset":   riverOffset,
		"surface_origin": surfaceOrigin,
		"surface_drop":   surfaceDrop,
		"surface_span":   surfaceSpan,
	}
}
