package meta

import "time"

// Completion summarizes the outcome of one scaling invocation.
type Completion struct {
	ClusterID string            `json:"clusterId"`
	Succeeded bool              `json:"succeeded"`
	Error     string            `json:"error,omitempty"`
	Decisions map[string]string `json:"decisions,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ClusterInfo is a point-in-time view of one cluster.
type ClusterInfo struct {
	ID             string      `json:"id"`
	Name           string      `json:"name,omitempty"`
	Folder         string      `json:"folder,omitempty"`
	MinInstances   int         `json:"minInstances"`
	StrategyKey    string      `json:"strategyKey,omitempty"`
	PoweredOn      int         `json:"poweredOn"`
	PoweredOff     int         `json:"poweredOff"`
	Hosts          []string    `json:"hosts,omitempty"`
	Busy           bool        `json:"busy"`
	LastCompletion *Completion `json:"lastCompletion,omitempty"`
}
