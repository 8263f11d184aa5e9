package api

import "github.com/krau/wabot/plugin"

type ReloadRequest struct {
	// Plugin path or module id relative to the plugin directory. Empty reloads all.
	Path string `json:"path,omitempty" validate:"omitempty,max=512"`
}

type ModesRequest struct {
	Restrict *bool `json:"restrict,omitempty"`
	Self     *bool `json:"self,omitempty"`
}

type SendTextRequest struct {
	Chat string `json:"chat" validate:"required,contains=@"`
	Text string `json:"text" validate:"required,max=65536"`
}

type PluginInfo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Hash string `json:"hash"`
	*plugin.Descriptor
}

func pluginInfo(p *plugin.Plugin) PluginInfo {
	return PluginInfo{ID: p.ID, Path: p.Path, Hash: p.Hash, Descriptor: p.Descriptor}
}
