// Package placement scatters vegetation over the terrain field using rejection sampling.
package placement

import (
	"math"

	"dronerace/broker/internal/terrain"

	"github.com/aquilax/go-perlin"
)

const (
	// DefaultSeed reproduces the stock forest.
	DefaultSeed int64 = 123
	// DefaultCount is the number of trees requested for a full map.
	DefaultCount = 9000
	// DefaultKeepRatio is the probability that an otherwise valid spot is kept.
	DefaultKeepRatio = 0.85
	// DefaultClearingThreshold is the mask value below which a masked forest opens a clearing.
	DefaultClearingThreshold = -0.3

	parkMillerModulus    = 2147483647
	parkMillerMultiplier = 16807
	attemptFactor        = 4
	clearingRadius       = 30.0
	minTreeHeight        = 2.0
	maxTreeHeight        = 50.0
	snowLine             = 35.0
	trunkSink            = 2.5
)

// Config tunes a scatter pass.
type Config struct {
	Seed      int64
	Count     int
	MapSize   float64
	KeepRatio float64
	// DensityFrequency scales world coordinates before sampling the forest mask. Zero disables
	// the mask. Masked forests are a subsequence of the unmasked candidates.
	DensityFrequency float64
	// ClearingThreshold rejects spots where the forest mask falls below it.
	ClearingThreshold float64
}

// DefaultConfig returns the stock forest layout. The density mask is off.
func DefaultConfig() Config {
	return Config{
		Seed:              DefaultSeed,
		Count:             DefaultCount,
		MapSize:           terrain.DefaultSize,
		KeepRatio:         DefaultKeepRatio,
		ClearingThreshold: DefaultClearingThreshold,
	}
}

// Tree describes one placed instance.
type Tree struct {
	X, Z          float64
	BaseY         float64
	TrunkHeight   float64
	FoliageRadius float64
	// Shade in [0, 1) tints bark and foliage.
	Shade        float64
	LeanX, LeanZ float64
	RotationY    float64
	Snowy        bool
}

// Random is the Park-Miller minimal standard generator.
type Random struct {
	state int64
}

// NewRandom seeds a generator. Seeds outside [1, modulus) are folded into range.
func NewRandom(seed int64) *Random {
	s := seed % parkMillerModulus
	if s <= 0 {
		s += parkMillerModulus - 1
	}
	return &Random{state: s}
}

// Float64 returns the next value in [0, 1).
func (r *Random) Float64() float64 {
	r.state = r.state * parkMillerMultiplier % parkMillerModulus
	return float64(r.state-1) / float64(parkMillerModulus-1)
}

// Scatter places up to cfg.Count trees, giving up after four attempts per requested tree.
func Scatter(cfg Config) []Tree {
	if cfg.Count <= 0 || cfg.MapSize <= 0 {
		return nil
	}
	rng := NewRandom(cfg.Seed)
	var mask *perlin.Perlin
	if cfg.DensityFrequency > 0 {
		mask = perlin.NewPerlin(2, 2, 3, cfg.Seed)
	}

	trees := make([]Tree, 0, cfg.Count)
	for attempt := 0; len(trees) < cfg.Count && attempt < cfg.Count*attemptFactor; attempt++ {
		//1.- Draw a candidate spot over the whole map.
		x := (rng.Float64() - 0.5) * cfg.MapSize
		z := (rng.Float64() - 0.5) * cfg.MapSize

		//2.- Keep the spawn clearing and the water open.
		if math.Hypot(x, z) < clearingRadius || terrain.IsRiver(x, z) {
			continue
		}
		h := terrain.Height(x, z)
		if h < minTreeHeight || h > maxTreeHeight {
			continue
		}

		//3.- Thin the forest randomly.
		if rng.Float64() > cfg.KeepRatio {
			continue
		}

		//4.- Draw order is part of the layout: trunk, foliage, shade, lean x, lean z, rotation.
		tree := Tree{X: x, Z: z, BaseY: h - trunkSink, Snowy: h > snowLine}
		tree.TrunkHeight = 1.6 + rng.Float64()*4.4
		tree.FoliageRadius = 1 + rng.Float64()*2.5
		tree.Shade = rng.Float64()
		tree.LeanX = (rng.Float64() - 0.5) * 0.1
		tree.LeanZ = (rng.Float64() - 0.5) * 0.1
		tree.RotationY = rng.Float64() * 2 * math.Pi

		//5.- The density mask opens clearings after the draws so the stock sequence is kept.
		if mask != nil && mask.Noise2D(x*cfg.DensityFrequency, z*cfg.DensityFrequency) < cfg.ClearingThreshold {
			continue
		}
		trees = append(trees, tree)
	}
	return trees
}
