package cache

import "fmt"

func ScanStatusKey(scanID string) string {
	return fmt.Sprintf("scan:status:%s", scanID)
}

func ScanResultKey(scanID string) string {
	return fmt.Sprintf("scan:result:%s", scanID)
}

func RateLimitKey(caller string) string {
	return fmt.Sprintf("ratelimit:%s", caller)
}
