package core

import (
	"sync"
	"time"
)

// MonitoringHooks defines hooks for observing external requests
type MonitoringHooks struct {
	// OnRequest is called before every attempt
	OnRequest func(service, operation string)

	// OnResponse is called after every attempt
	OnResponse func(service, operation string, duration time.Duration, success bool)

	// OnRateLimit is called when a request had to wait for the rate limiter
	OnRateLimit func(service string, waitTime time.Duration)

	// OnError is called with the error code of every failed attempt
	OnError func(service, errorType string)
}

var (
	globalHooks *MonitoringHooks
	hooksMutex  sync.RWMutex
)

// SetMonitoringHooks sets global monitoring hooks
func SetMonitoringHooks(hooks *MonitoringHooks) {
	hooksMutex.Lock()
	defer hooksMutex.Unlock()
	globalHooks = hooks
}

func getMonitoringHooks() *MonitoringHooks {
	hooksMutex.RLock()
	defer hooksMutex.RUnlock()
	return globalHooks
}
