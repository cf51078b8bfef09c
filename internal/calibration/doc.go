// Package calibration relates manipulator axes to the camera-anchored
// reference frame.
//
// Each calibrated device holds a 3×n matrix M mapping its axis positions u
// (micrometers) to reference displacements, the pseudo-inverse Minv used to
// go back, and an offset r0, so that
//
//	reference_position = M·u + r0 + stage.reference_position()
//
// where stage is the device the unit is mounted on. Stage chains always end
// at a FixedStage, which contributes a constant.
//
// Three variants implement Positioner:
//
//   - FixedStage: a platform that cannot move.
//   - Stage: a horizontal two-axis stage, calibrated by one direct template
//     measurement per axis.
//   - Unit: an n-axis manipulator, calibrated against a focus stack with
//     trial distances doubling each round, with or without compensating
//     stage moves.
//
// Calibration commits M, Minv and r0 only when the whole procedure succeeds;
// every device it moved is returned to its starting position on every path.
package calibration
