// Package core holds the shared data model for the biosignal engine: the
// recording, its source channels and annotations, the interruption
// timeline, and the montage recipe used to derive displayed channels from
// raw ones. Subpackages (memory, buffer, rawio, montage, service) implement
// the subsystems that operate over these types.
package core
