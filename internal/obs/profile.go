package obs

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
)

// ProfilerConfig enables continuous profiling when ServerAddress is set.
type ProfilerConfig struct {
	ApplicationName string
	ServerAddress   string
	Tags            map[string]string
}

// StartProfiler starts a pyroscope profiler. The returned stop function is
// never nil.
func StartProfiler(cfg ProfilerConfig) (func(), error) {
	if cfg.ServerAddress == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          quietLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, err
	}
	logs.Infof("profiling %s to %s", cfg.ApplicationName, cfg.ServerAddress)
	return func() { _ = profiler.Stop() }, nil
}

type quietLogger struct{}

func (quietLogger) Infof(string, ...any)  {}
func (quietLogger) Debugf(string, ...any) {}
func (quietLogger) Errorf(format string, args ...any) {
	logs.Errorf("pyroscope: "+format, args...)
}
