package global

var (
	Version = ""
)

// Configuration holds the parameters that are shared across submodules.
type Configuration struct {
	LogLevel string

	// CTFd groups everything needed to reach the deployed application
	// and to authenticate as its default administrator.
	CTFd struct {
		URL           string
		AdminEmail    string
		AdminPassword string
		TokenName     string
	}

	Secret struct {
		// Backend selects the secret store implementation ("awssm" or "etcd").
		Backend string
		Name    string
	}

	Etcd struct {
		Endpoint string
		Username string
		Password string
	}

	Otel struct {
		Tracing     bool
		ServiceName string
	}
}

var (
	Conf Configuration
)
