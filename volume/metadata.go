package volume

import (
	"encoding/json"
	"fmt"
	"time"
)

// VoxelSize is the physical step along Z, Y and X in micrometres. The zero
// value means the size is unknown.
type VoxelSize [3]float64

// Known reports whether every component is positive.
func (v VoxelSize) Known() bool {
	return v[0] > 0 && v[1] > 0 && v[2] > 0
}

func (v VoxelSize) String() string {
	if !v.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%g x %g x %g um", v[0], v[1], v[2])
}

// Wavelength is an optional wavelength in nanometres. The zero value is
// unknown.
type Wavelength struct {
	nm    float64
	known bool
}

// Nanometres returns a known wavelength.
func Nanometres(nm float64) Wavelength { return Wavelength{nm: nm, known: true} }

// Value returns the wavelength and whether it is known.
func (w Wavelength) Value() (float64, bool) { return w.nm, w.known }

func (w Wavelength) String() string {
	if !w.known {
		return "unknown"
	}
	return fmt.Sprintf("%g nm", w.nm)
}

// MarshalJSON encodes an unknown wavelength as null.
func (w Wavelength) MarshalJSON() ([]byte, error) {
	if !w.known {
		return []byte("null"), nil
	}
	return json.Marshal(w.nm)
}

// UnmarshalJSON accepts a number or null.
func (w *Wavelength) UnmarshalJSON(b []byte) error {
	var v *float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*w = Wavelength{}
	if v != nil {
		*w = Nanometres(*v)
	}
	return nil
}

// Channel describes one channel. It never affects indexing.
type Channel struct {
	Name       string     `json:"name"`
	Emission   Wavelength `json:"emission"`
	Excitation Wavelength `json:"excitation"`
	// Color is an RGB display hint in [0, 1]; nil when unknown.
	Color []float64 `json:"color,omitempty"`
}

// Metadata is the record handed to consumers of a volume.
type Metadata struct {
	Filename string    `json:"filename"`
	Shape    [Rank]int `json:"shape"`
	Scale    VoxelSize `json:"scale"`
	Channels []Channel `json:"channels"`
	// Timestamps has one entry per time point, zero where unknown. It is
	// nil when the source records no times at all.
	Timestamps []time.Time `json:"timestamps,omitempty"`
	// Levels lists the shape of every resolution level, finest first.
	Levels [][Rank]int `json:"levels,omitempty"`
	// RGB marks channels that are the colour samples of a picture.
	RGB bool `json:"rgb"`
}

// ChannelNames returns the channel names, generating "Channel i" for
// unnamed channels and for channels beyond those described.
func (m *Metadata) ChannelNames() []string {
	n := max(m.Shape[C], len(m.Channels))
	out := make([]string, n)
	for i := range out {
		if i < len(m.Channels) && m.Channels[i].Name != "" {
			out[i] = m.Channels[i].Name
		} else {
			out[i] = fmt.Sprintf("Channel %d", i)
		}
	}
	return out
}

// DefaultChannels returns n channels named "Channel i".
func DefaultChannels(n int) []Channel {
	out := make([]Channel, n)
	for i := range out {
		out[i].Name = fmt.Sprintf("Channel %d", i)
	}
	return out
}

// Rescaled returns m describing a resampled view of shape, with the voxel
// size stretched along every spatial axis whose extent changed.
func (m Metadata) Rescaled(shape [Rank]int) Metadata {
	out := m
	out.Shape = shape
	if m.Scale.Known() {
		for i, axis := range [3]int{Z, Y, X} {
			if shape[axis] > 0 && m.Shape[axis] > 0 && shape[axis] != m.Shape[axis] {
				out.Scale[i] = m.Scale[i] * float64(m.Shape[axis]) / float64(shape[axis])
			}
		}
	}
	return out
}
