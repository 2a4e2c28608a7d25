package config

import (
	"os"
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// PluginConfiguration describes one extraction plugin and the extensions it claims
type PluginConfiguration struct {
	Name               string   `yaml:"name"`
	Enabled            bool     `yaml:"enabled"`
	PreviewTextEnabled bool     `yaml:"preview_text"`
	Extensions         []string `yaml:"extensions"`
}

type pluginFile struct {
	Plugins []PluginConfiguration `yaml:"plugins"`
}

// DefaultPlugins returns the built-in plugin set. HTML extraction is off so markup stays replaceable.
func DefaultPlugins() []PluginConfiguration {
	return []PluginConfiguration{
		{Name: "email", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"eml"}},
		{Name: "mbox", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"mbox"}},
		{Name: "msg", Enabled: true, PreviewTextEnabled: false, Extensions: []string{"msg"}},
		{Name: "pdf", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"pdf"}},
		{Name: "word", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"docx"}},
		{Name: "word97", Enabled: true, PreviewTextEnabled: false, Extensions: []string{"doc"}},
		{Name: "opendocument", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"odt"}},
		{Name: "rtf", Enabled: true, PreviewTextEnabled: true, Extensions: []string{"rtf"}},
		{Name: "archive", Enabled: true, PreviewTextEnabled: false, Extensions: []string{"zip", "jar"}},
		{Name: "html", Enabled: false, PreviewTextEnabled: true, Extensions: []string{"html", "htm"}},
	}
}

// LoadPluginConfigurations reads a YAML plugin file and merges it over the defaults.
// Entries are matched by name; unknown names are added as-is. A missing file yields the defaults.
func LoadPluginConfigurations(path string) ([]PluginConfiguration, error) {
	plugins := DefaultPlugins()
	if path == "" {
		return plugins, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return plugins, nil
		}
		return nil, errors.Errorf("reading plugin configuration: %w", err)
	}

	var file pluginFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Errorf("parsing plugin configuration %s: %w", path, err)
	}

	return MergePlugins(plugins, file.Plugins), nil
}

// MergePlugins overlays overrides onto base by plugin name
func MergePlugins(base, overrides []PluginConfiguration) []PluginConfiguration {
	out := make([]PluginConfiguration, len(base))
	copy(out, base)

	for _, o := range overrides {
		o.Extensions = normalizeExtensions(o.Extensions)
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Name, o.Name) {
				if len(o.Extensions) == 0 {
					o.Extensions = out[i].Extensions
				}
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
