// Package factory wires the broker session implementations to their
// connection types.
package factory

import (
	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/client/amqp091"
	"github.com/eclipse-ditto/ditto-sub022/client/amqp10"
	"github.com/eclipse-ditto/ditto-sub022/client/httppush"
	"github.com/eclipse-ditto/ditto-sub022/client/kafka"
	"github.com/eclipse-ditto/ditto-sub022/client/mqtt3"
	"github.com/eclipse-ditto/ditto-sub022/client/mqtt5"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
)

// Default returns the session factory table covering every supported
// connection type.
func Default() map[connection.Type]client.Factory {
	return map[connection.Type]client.Factory{
		connection.TypeAMQP091:  amqp091.Factory,
		connection.TypeAMQP10:   amqp10.Factory,
		connection.TypeMQTT3:    mqtt3.Factory,
		connection.TypeMQTT5:    mqtt5.Factory,
		connection.TypeKafka:    kafka.Factory,
		connection.TypeHTTPPush: httppush.Factory,
	}
}

// For resolves the factory for a connection type.
func For(t connection.Type) (client.Factory, error) {
	f, ok := Default()[t]
	if !ok {
		return nil, gwerrors.NewConfigurationInvalid("unsupported connection type " + string(t))
	}
	return f, nil
}
