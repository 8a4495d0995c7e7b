package camera

// Preset names for common capture sizes
const (
	PresetDefault = "default"
	Preset180p    = "180p"
	Preset360p    = "360p"
	Preset720p    = "720p"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		Preset180p:    DefaultConfig(),
		Preset360p:    HD360Config(),
		Preset720p:    HD720Config(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, Preset180p, Preset360p, Preset720p}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// HD360Config returns 640x360. Better keypoints, roughly 4x the inference cost.
func HD360Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = HeightFor(640)
	return cfg
}

// HD720Config returns 1280x720. Only usable with a GPU-backed DNN target.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = HeightFor(1280)
	return cfg
}
