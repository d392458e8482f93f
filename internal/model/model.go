// Package model defines the core navigation data types.
package model

import "time"

// Edge is one observed route transition: "from the route this edge is
// keyed under, the user went to Edge.To". Counts and recency feed the
// predictor's scoring.
type Edge struct {
	To        string    `json:"to"`
	Count     int       `json:"count"`
	LastVisit time.Time `json:"last_visit"`
}

// Prediction is one ranked candidate for the next route.
type Prediction struct {
	Route       string  `json:"route"`
	Probability float64 `json:"probability"`
	Score       float64 `json:"score"`
}

// Well-known application routes.
const (
	RouteDashboard     = "/dashboard"
	RouteContacts      = "/contacts"
	RouteConversations = "/conversations"
	RouteTasks         = "/tasks"
	RouteCalendar      = "/calendar"
	RouteAnalytics     = "/analytics"
)

// DefaultTransitions is the cold-start table: before any history exists
// for a route, Predict falls back to these so behavior is deterministic
// rather than empty.
var DefaultTransitions = map[string][]string{
	RouteDashboard:     {RouteContacts, RouteTasks, RouteConversations},
	RouteContacts:      {RouteConversations, RouteDashboard},
	RouteConversations: {RouteContacts, RouteDashboard},
	RouteTasks:         {RouteCalendar, RouteDashboard},
	RouteCalendar:      {RouteTasks, RouteDashboard},
	RouteAnalytics:     {RouteDashboard, RouteContacts},
}
