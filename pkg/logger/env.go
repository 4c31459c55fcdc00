package logger

// envReader is the minimal environment lookup surface the logger needs,
// narrow enough to fake in tests without a real process environment.
type envReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string {
	return getenv(key)
}
