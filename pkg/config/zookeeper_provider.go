package config

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// zookeeperProvider is a koanf.Provider reading one znode's bytes,
// parsed as YAML by the caller. Grounded on discovery.ZKCardStore's use
// of the same client, kept symmetric so config and service discovery
// share one backend choice per deployment.
type zookeeperProvider struct {
	conn *zk.Conn
	path string
}

// newZookeeperProvider dials endpoints and returns a provider reading
// path.
func newZookeeperProvider(endpoints []string, path string) (*zookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("config: zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("config: zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: connect to zookeeper: %w", err)
	}
	return &zookeeperProvider{conn: conn, path: path}, nil
}

// ReadBytes implements koanf.Provider.
func (p *zookeeperProvider) ReadBytes() ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("config: read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// watch blocks, invoking cb each time the znode's data changes, until
// the node is deleted or the watch is lost.
func (p *zookeeperProvider) watch(cb func(event interface{}, err error)) error {
	for {
		_, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			cb(nil, fmt.Errorf("config: watch zookeeper path %s: %w", p.path, err))
			continue
		}

		event := <-eventCh
		switch event.Type {
		case zk.EventNodeDataChanged:
			data, err := p.ReadBytes()
			cb(data, err)
		case zk.EventNodeDeleted:
			cb(nil, fmt.Errorf("config: zookeeper node %s was deleted", p.path))
			return nil
		case zk.EventNotWatching:
			cb(nil, fmt.Errorf("config: zookeeper watch lost for path %s", p.path))
			return nil
		}
	}
}

func (p *zookeeperProvider) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
