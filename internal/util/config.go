package util

import (
	"strings"

	"github.com/spf13/viper"
)

// DefaultUserAgent identifies the crawler when CRAWLER_USER_AGENT is unset
const DefaultUserAgent = "SolsticeGameCrawler/1.0"

// GetUserAgent returns the User-Agent sent with every outbound request
// Can be overridden with --user-agent or CRAWLER_USER_AGENT
func GetUserAgent() string {
	ua := strings.TrimSpace(viper.GetString("user-agent"))
	if ua == "" {
		return DefaultUserAgent
	}
	return ua
}
