package model

import "time"

// NodeStatus is the lifecycle state of a monitored node.
type NodeStatus string

const (
	NodeActive      NodeStatus = "active"
	NodeInactive    NodeStatus = "inactive"
	NodeError       NodeStatus = "error"
	NodeMaintenance NodeStatus = "maintenance"
)

// Node is a monitored blockchain node. The monitoring core only flips its
// status on check outcomes and stamps last_checked_at; everything else is
// owned by the management layer.
type Node struct {
	ID            string     `json:"id"`
	SubscriberID  string     `json:"subscriberId"`
	Name          string     `json:"name"`
	Endpoint      string     `json:"endpoint"`
	Status        NodeStatus `json:"status"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
}
