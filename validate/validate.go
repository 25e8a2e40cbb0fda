// Package validate implements the authoritative plausibility checks applied
// to client-reported player state. Checks are pure and stateless; callers
// keep whatever last-known state they need and pass it in.
package validate

import (
	"math"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
)

// Bounds is the playable world rectangle.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Validator holds the world limits used by every check.
type Validator struct {
	World     Bounds
	MinSize   float64
	MaxSize   float64
	MaxSpeed  float64 // world units per tick at 60 Hz
	SpawnSize float64 // fallback size for malformed input
}

// Default limits match the reference arena.
func NewDefault() *Validator {
	return &Validator{
		World:     Bounds{MinX: 0, MinY: 0, MaxX: 3000, MaxY: 3000},
		MinSize:   10,
		MaxSize:   500,
		MaxSpeed:  10,
		SpawnSize: 15,
	}
}

const (
	ReasonOutOfBounds   = "out of bounds"
	ReasonInvalidSize   = "invalid size"
	ReasonTeleportation = "teleportation suspected"
)

// Correction is a server-suggested replacement position.
type Correction struct {
	X float64
	Y float64
}

// Result reports whether an update is plausible. Reason is set only when
// invalid; Corrected only when a safe replacement exists.
type Result struct {
	IsValid   bool
	Reason    string
	Corrected *Correction
}

// ValidatePosition runs the ordered plausibility checks against a reported
// update. lastTimestamp and now are wall-clock milliseconds.
//
// Bounds violations come back with a clamped correction. Size violations get
// no correction: size is driven by game rules, not geometry. Speed violations
// get no correction either — the reporter's velocity intent is unknown, so
// the caller must reject the update outright rather than smooth it over.
func (v *Validator) ValidatePosition(newX, newY, newSize, lastX, lastY float64, lastTimestamp, now int64) Result {
	if newX < v.World.MinX || newX > v.World.MaxX || newY < v.World.MinY || newY > v.World.MaxY {
		return Result{
			IsValid: false,
			Reason:  ReasonOutOfBounds,
			Corrected: &Correction{
				X: clamp(newX, v.World.MinX, v.World.MaxX),
				Y: clamp(newY, v.World.MinY, v.World.MaxY),
			},
		}
	}

	if newSize < v.MinSize || newSize > v.MaxSize {
		return Result{IsValid: false, Reason: ReasonInvalidSize}
	}

	// Floor the delta at 1 ms to guard against clock skew and same-tick
	// duplicates.
	timeDelta := now - lastTimestamp
	if timeDelta < 1 {
		timeDelta = 1
	}
	distance := math.Hypot(newX-lastX, newY-lastY)
	speed := distance / (float64(timeDelta) / 1000.0)
	if speed > v.MaxSpeed*60 {
		return Result{IsValid: false, Reason: ReasonTeleportation}
	}

	return Result{IsValid: true}
}

// Entity is anything with a center and a diameter-like size.
type Entity struct {
	X    float64
	Y    float64
	Size float64
}

// ValidateCollision reports whether two entities overlap. Symmetric.
func (v *Validator) ValidateCollision(a, b Entity) bool {
	return math.Hypot(a.X-b.X, a.Y-b.Y) <= (a.Size+b.Size)/2
}

// RawPlayerData is untrusted wire input before coercion.
type RawPlayerData struct {
	X         *float64
	Y         *float64
	Size      *float64
	VelocityX *float64
	VelocityY *float64
}

// SanitizePlayerData coerces untrusted input into a well-typed sample.
// Missing or non-finite numbers default to zero (size defaults to the spawn
// size); velocity components are clamped to the speed limit.
func (v *Validator) SanitizePlayerData(raw RawPlayerData) domain.PositionSample {
	return domain.PositionSample{
		X:         numberOr(raw.X, 0),
		Y:         numberOr(raw.Y, 0),
		Size:      numberOr(raw.Size, v.SpawnSize),
		VelocityX: clamp(numberOr(raw.VelocityX, 0), -v.MaxSpeed, v.MaxSpeed),
		VelocityY: clamp(numberOr(raw.VelocityY, 0), -v.MaxSpeed, v.MaxSpeed),
	}
}

func numberOr(p *float64, fallback float64) float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return fallback
	}
	return *p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
