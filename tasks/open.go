package tasks

import (
	"github.com/juju/errors"

	"remoteobj/config"
)

// OpenStore builds the store selected by c.
func OpenStore(c config.StoreConfig) (Store, error) {
	switch c.Kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "etcd":
		s, err := NewEtcdStore(c.Endpoints, c.Prefix, c.DialTimeout)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return s, nil
	}
	return nil, errors.NotValidf("store kind %q", c.Kind)
}
