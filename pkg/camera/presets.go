package camera

// Preset is a named resolution profile.
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Framerate   int    `json:"framerate"`
	Quality     int    `json:"quality"`
}

// Presets contains the built-in profiles.
var Presets = map[string]Preset{
	"low": {
		Name:        "low",
		Description: "320x240 for constrained edge hardware",
		Width:       320,
		Height:      240,
		Framerate:   10,
		Quality:     75,
	},
	"default": {
		Name:        "default",
		Description: "640x480, matches the pose model's effective input",
		Width:       640,
		Height:      480,
		Framerate:   15,
		Quality:     85,
	},
	"hd": {
		Name:        "hd",
		Description: "1280x720 for wide rooms and small weapon detections",
		Width:       1280,
		Height:      720,
		Framerate:   15,
		Quality:     85,
	},
}

// GetPreset returns a preset by name, or nil when unknown.
func GetPreset(name string) *Preset {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return &p
}

// ListPresets returns the preset names.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
