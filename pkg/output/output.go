package output

import "github.com/ericogr/flowsensor-logger/pkg/station"

type Output interface {
	Publish(station.Snapshot) error
	Close() error
}

// helper constructors are in subpackages
