package buildinfo

import "runtime"

// Set via -ldflags at release time.
var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info is the build identity block served by the health endpoint.
func Info() map[string]string {
    return map[string]string{
        "service": "stoptrack",
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
        "go":      runtime.Version(),
    }
}
