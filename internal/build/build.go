package build

import "strings"

// Set via -ldflags at release time.
var (
	Version = "dev"
	AppName = "Parley"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
