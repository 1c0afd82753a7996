package browser

import (
	"fmt"
	"runtime"
	"strings"
)

const chromeMajor = 120

// ResolveUserAgent returns the user agent override for a session, or "" to
// keep the browser's own. An explicit UserAgent always wins; otherwise
// headless sessions get a platform-appropriate Chrome UA without the
// "HeadlessChrome" token, which the portal blocks.
func ResolveUserAgent(o Options) string {
	if ua := strings.TrimSpace(o.UserAgent); ua != "" {
		return ua
	}
	if !o.Headless || !o.AutoFixHeadlessUserAgent {
		return ""
	}
	return HeadlessSafeUserAgent(runtime.GOOS)
}

// HeadlessSafeUserAgent returns a stock desktop Chrome UA for goos.
func HeadlessSafeUserAgent(goos string) string {
	var platform string
	switch goos {
	case "windows":
		platform = "Windows NT 10.0; Win64; x64"
	case "darwin":
		platform = "Macintosh; Intel Mac OS X 10_15_7"
	default:
		platform = "X11; Linux x86_64"
	}
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", platform, chromeMajor)
}
