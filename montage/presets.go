// On-disk montage presets: a named layout/filter recipe a caller can load
// by name instead of constructing a core.Montage by hand, used by the
// serve command's map-channels handler and by tests that need a realistic
// montage fixture.
//
// The YAML shape and gopkg.in/yaml.v3 decode-into-struct approach is
// grounded on ColonelBlimp-cwdecoder's internal/config/config.go, which
// decodes its on-disk settings the same way (Unmarshal into a plain struct,
// validate after).
package montage

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	core "epicurrents.dev/core"
)

// presetChannel is the YAML shape of one montage channel entry.
type presetChannel struct {
	Label            string         `yaml:"label"`
	Active           []presetWeight `yaml:"active"`
	Reference        []presetWeight `yaml:"reference"`
	Averaged         bool           `yaml:"averaged"`
	AverageReference bool           `yaml:"average_reference"`
	Polarity         float64        `yaml:"polarity"`
	ScaleExp         int            `yaml:"scale_exp"`
	HighPass         *float64       `yaml:"high_pass"`
	LowPass          *float64       `yaml:"low_pass"`
	Notch            *float64       `yaml:"notch"`
	BandReject       []float64      `yaml:"band_reject"`
}

type presetWeight struct {
	Index  int     `yaml:"index"`
	Weight float64 `yaml:"weight"`
}

// Preset is the YAML shape of a named montage recipe.
type Preset struct {
	Name                 string          `yaml:"name"`
	Label                string          `yaml:"label"`
	Layout               []int           `yaml:"layout"`
	HighPass             *float64        `yaml:"high_pass"`
	LowPass              *float64        `yaml:"low_pass"`
	Notch                *float64        `yaml:"notch"`
	BandReject           []float64       `yaml:"band_reject"`
	FilterPaddingSeconds float64         `yaml:"filter_padding_seconds"`
	DownsampleLimit      float64         `yaml:"downsample_limit"`
	ExcludeActiveFromAvg bool            `yaml:"exclude_active_from_avg"`
	Channels             []presetChannel `yaml:"channels"`
}

// LoadPresetFile reads and parses a single montage preset from path.
func LoadPresetFile(path string) (*Preset, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("montage: read preset %s: %w", path, err)
	}
	var p Preset
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return nil, fmt.Errorf("montage: parse preset %s: %w", path, err)
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("montage: preset %s declares no channels", path)
	}
	return &p, nil
}

// ToMontage builds a core.Montage from a decoded preset, bound to
// recordingID.
func (p *Preset) ToMontage(recordingID uuid.UUID) *core.Montage {
	m := &core.Montage{
		Name:        p.Name,
		Label:       p.Label,
		RecordingID: recordingID,
		Layout:      p.Layout,
		Filters: core.FilterSet{
			HighPass:   p.HighPass,
			LowPass:    p.LowPass,
			Notch:      p.Notch,
			BandReject: p.BandReject,
		},
		FilterPaddingSeconds: p.FilterPaddingSeconds,
		DownsampleLimit:      p.DownsampleLimit,
		ExcludeActiveFromAvg: p.ExcludeActiveFromAvg,
		Channels:             make([]core.MontageChannel, len(p.Channels)),
	}
	if len(m.Layout) == 0 {
		m.Layout = []int{len(p.Channels)}
	}
	for i, pc := range p.Channels {
		polarity := pc.Polarity
		if polarity == 0 {
			polarity = 1
		}
		m.Channels[i] = core.MontageChannel{
			Label:            pc.Label,
			Active:           toChannelSet(pc.Active),
			Reference:        toChannelSet(pc.Reference),
			Averaged:         pc.Averaged,
			AverageReference: pc.AverageReference,
			Polarity:         polarity,
			ScaleExp:         pc.ScaleExp,
			Filters: core.FilterSet{
				HighPass:   pc.HighPass,
				LowPass:    pc.LowPass,
				Notch:      pc.Notch,
				BandReject: pc.BandReject,
			},
		}
	}
	return m
}

func toChannelSet(ws []presetWeight) core.ChannelSet {
	if len(ws) == 0 {
		return nil
	}
	set := make(core.ChannelSet, len(ws))
	for i, w := range ws {
		weight := w.Weight
		if weight == 0 {
			weight = 1.0
		}
		set[i] = core.WeightedChannel{Index: w.Index, Weight: weight}
	}
	return set
}
