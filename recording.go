package core

import "github.com/google/uuid"

// Recording is a source of multi-channel time-series data: a fixed set of
// source channels, a mutable annotation set, and an interruption timeline
// separating data time from recording time.
type Recording struct {
	Resource

	ID        uuid.UUID
	HasStart  bool
	StartTime int64 // unix seconds, only meaningful when HasStart

	Channels      []SourceChannel
	Interruptions *InterruptionMap
	Annotations   map[string]Annotation

	montages map[string]*Montage
}

// NewRecording creates an empty recording with a fresh id.
func NewRecording() *Recording {
	return &Recording{
		ID:            uuid.New(),
		Interruptions: &InterruptionMap{},
		Annotations:   map[string]Annotation{},
		montages:      map[string]*Montage{},
	}
}

// TDataSeconds is the total amount of actual recorded signal, taken from
// the longest source channel's sample count and sampling rate.
func (r *Recording) TDataSeconds() float64 {
	var max float64
	for _, ch := range r.Channels {
		if ch.SamplingRate <= 0 {
			continue
		}
		d := float64(ch.SampleCount) / ch.SamplingRate
		if d > max {
			max = d
		}
	}
	return max
}

// TTotalSeconds is T_data plus the sum of every interruption's duration,
// satisfying the invariant sum(interruption.duration) + T_data == T_total.
func (r *Recording) TTotalSeconds() float64 {
	return r.TDataSeconds() + r.Interruptions.TotalDuration()
}

// AddAnnotation inserts an annotation, assigning it an id if it doesn't
// already have a unique one within this recording.
func (r *Recording) AddAnnotation(a Annotation) Annotation {
	if a.ID == "" || r.hasAnnotation(a.ID) {
		a.ID = uuid.NewString()
	}
	r.Annotations[a.ID] = a
	return a
}

func (r *Recording) hasAnnotation(id string) bool {
	_, ok := r.Annotations[id]
	return ok
}

// RemoveAnnotation is the only way to destroy an annotation.
func (r *Recording) RemoveAnnotation(id string) {
	delete(r.Annotations, id)
}

// Montage looks up a previously created montage by name.
func (r *Recording) Montage(name string) (*Montage, bool) {
	m, ok := r.montages[name]
	return m, ok
}

// AddMontage registers a montage recipe against this recording, binding it
// by id rather than by pointer back (see SPEC_FULL.md's arena note on
// cyclic references).
func (r *Recording) AddMontage(m *Montage) {
	m.RecordingID = r.ID
	r.montages[m.Name] = m
}

// Montages returns every registered montage recipe.
func (r *Recording) Montages() []*Montage {
	out := make([]*Montage, 0, len(r.montages))
	for _, m := range r.montages {
		out = append(out, m)
	}
	return out
}

// SourceChannelIndex resolves a channel id-name to its index, or -1.
func (r *Recording) SourceChannelIndex(idName string) int {
	for i, ch := range r.Channels {
		if ch.IDName == idName {
			return i
		}
	}
	return -1
}
