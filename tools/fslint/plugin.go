package fslint

import (
	"github.com/golangci/plugin-module-register/register"
	"golang.org/x/tools/go/analysis"
)

func init() {
	register.Plugin("fslint", New)
}

// New builds the golangci-lint plugin.
func New(settings any) (register.LinterPlugin, error) {
	s, err := register.DecodeSettings[PluginSettings](settings)
	if err != nil {
		return nil, err
	}
	return &plugin{settings: s}, nil
}

// PluginSettings are the golangci-lint settings of the plugin. An empty
// Config uses the built-in rules.
type PluginSettings struct {
	Config string `json:"config"`
}

type plugin struct {
	settings PluginSettings
}

func (p *plugin) BuildAnalyzers() ([]*analysis.Analyzer, error) {
	configFile = p.settings.Config
	return []*analysis.Analyzer{Analyzer}, nil
}

func (p *plugin) GetLoadMode() string {
	return register.LoadModeSyntax
}
