package objectstore

import "strings"

// DefaultRegion is where buckets without a location constraint live.
const DefaultRegion = "us-east-1"

// legacy location constraints returned by GetBucketLocation.
var regionAliases = map[string]string{
	"eu": "eu-west-1",
	"us": DefaultRegion,
}

// NormalizeRegion maps a raw location constraint to a region code.
func NormalizeRegion(constraint string) string {
	c := strings.ToLower(strings.TrimSpace(constraint))
	if c == "" {
		return DefaultRegion
	}
	if r, ok := regionAliases[c]; ok {
		return r
	}
	return c
}

// AWSEndpoint returns the path-style S3 endpoint for region.
func AWSEndpoint(region string) string {
	region = NormalizeRegion(region)
	switch {
	case region == DefaultRegion:
		return "https://s3.amazonaws.com"
	case strings.HasPrefix(region, "cn-"):
		return "https://s3." + region + ".amazonaws.com.cn"
	default:
		return "https://s3." + region + ".amazonaws.com"
	}
}
