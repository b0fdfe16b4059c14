package protocol

type ComponentInfo struct {
	Name          string `json:"name"`
	Author        string `json:"author,omitempty"`
	Description   string `json:"description,omitempty"`
	VersionString string `json:"version_string,omitempty"`
	Version       int    `json:"version,omitempty"`
}

// ServerInfo is the reply of GET /info.
type ServerInfo struct {
	Janus          string                   `json:"janus"`
	Name           string                   `json:"name"`
	Version        int                      `json:"version"`
	VersionString  string                   `json:"version_string"`
	Author         string                   `json:"author"`
	DataChannels   bool                     `json:"data_channels"`
	SessionTimeout int                      `json:"session-timeout"`
	IPv6           bool                     `json:"ipv6"`
	ICETCP         bool                     `json:"ice-tcp"`
	Transports     map[string]ComponentInfo `json:"transports"`
	Plugins        map[string]ComponentInfo `json:"plugins"`
}

func (s *ServerInfo) HasPlugin(name string) bool {
	_, ok := s.Plugins[name]
	return ok
}
