package discovery

import (
	"errors"
	"fmt"

	"github.com/kevinjdinicola/ironet/ironet"
)

// ErrNoProvider is returned when a task is started against an endpoint with
// no discovery provider configured.
var ErrNoProvider = errors.New("discovery: no discovery services configured")

func errNoResolver(node ironet.NodeId) error {
	return fmt.Errorf("discovery: no discovery service can resolve node %s", node)
}

func errNoResults(node ironet.NodeId) error {
	return fmt.Errorf("discovery: produced no results for %s", node)
}
