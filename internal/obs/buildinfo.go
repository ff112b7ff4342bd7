package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// Build identifies the running binary.
type Build struct {
	Version   string
	Commit    string
	GoVersion string
}

// ResolveBuild fills what the linker did not stamp. A commit of "" or "dev"
// falls back to the VCS revision recorded by the go tool, shortened to 12
// characters and suffixed with "-dirty" for modified trees.
func ResolveBuild(version, commit string) Build {
	b := Build{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if b.Version == "" {
		b.Version = "unknown"
	}
	if b.Commit != "" && b.Commit != "dev" {
		return b
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if rev := vcsRevision(info.Settings); rev != "" {
			b.Commit = rev
		}
	}
	if b.Commit == "" {
		b.Commit = "dev"
	}
	return b
}

func vcsRevision(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// InitBuildInfo registers the build gauge once and points it at the resolved
// build, which it returns for logging.
func InitBuildInfo(version, commit string) Build {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	b := ResolveBuild(version, commit)
	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	return b
}
