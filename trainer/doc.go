// Package trainer runs the epoch loop of a Module: batched training steps, periodic
// metric logging, parallel validation, checkpoints, and logger finalization.
package trainer
