package params

type WebDaemonConfig struct {
	ListenerConfig
	DataDir string

	// MaxSessions bounds the number of live device sessions.
	// The least recently used session is stopped when the bound is reached.
	MaxSessions int

	Fusion *FusionConfig
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		DataDir:        DefaultDatadirRoot,
		ListenerConfig: DefaultWebListenerConfig(),
		MaxSessions:    128,
		Fusion:         DefaultFusionConfig(),
	}
}

func DefaultTestWebDaemonConfig() *WebDaemonConfig {
	d := &WebDaemonConfig{
		DataDir: "",
		ListenerConfig: ListenerConfig{
			Network: "tcp",
			Address: "localhost:3333",
		},
		MaxSessions: 4,
		Fusion:      DefaultFusionConfig(),
	}
	return d
}
