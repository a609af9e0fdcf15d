package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	etcdclient "go.etcd.io/etcd/client/v3"
	zk "github.com/go-zookeeper/zk"
)

// CardStore is an optional durable backing store for agent cards,
// beyond the in-process Registry that is always fed live from the
// discovery subscription. An operator points discovery at one of these
// when cards must survive a registry-process restart or be shared
// across multiple registry processes watching the same mesh — the
// in-memory Registry remains the source of truth for reads in the hot
// path (spec §4.4); a CardStore is consulted only to seed it at startup.
// Cards the Listener receives are not written back to the CardStore.
type CardStore interface {
	Put(ctx context.Context, name string, card Card) error
	Get(ctx context.Context, name string) (Card, bool, error)
	List(ctx context.Context) ([]Card, error)
}

const cardKeyPrefix = "agentmesh/discovery/cards/"

// EtcdCardStore backs CardStore with etcd's client v3.
type EtcdCardStore struct{ client *etcdclient.Client }

func NewEtcdCardStore(client *etcdclient.Client) *EtcdCardStore {
	return &EtcdCardStore{client: client}
}

func (s *EtcdCardStore) Put(ctx context.Context, name string, card Card) error {
	b, err := json.Marshal(card)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, cardKeyPrefix+name, string(b))
	return err
}

func (s *EtcdCardStore) Get(ctx context.Context, name string) (Card, bool, error) {
	resp, err := s.client.Get(ctx, cardKeyPrefix+name)
	if err != nil {
		return Card{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return Card{}, false, nil
	}
	var card Card
	if err := json.Unmarshal(resp.Kvs[0].Value, &card); err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

func (s *EtcdCardStore) List(ctx context.Context) ([]Card, error) {
	resp, err := s.client.Get(ctx, cardKeyPrefix, etcdclient.WithPrefix())
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var card Card
		if err := json.Unmarshal(kv.Value, &card); err != nil {
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// ConsulCardStore backs CardStore with the Consul KV store.
type ConsulCardStore struct{ kv *consulapi.KV }

func NewConsulCardStore(client *consulapi.Client) *ConsulCardStore {
	return &ConsulCardStore{kv: client.KV()}
}

func (s *ConsulCardStore) Put(ctx context.Context, name string, card Card) error {
	b, err := json.Marshal(card)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(&consulapi.KVPair{Key: cardKeyPrefix + name, Value: b}, nil)
	return err
}

func (s *ConsulCardStore) Get(ctx context.Context, name string) (Card, bool, error) {
	pair, _, err := s.kv.Get(cardKeyPrefix+name, nil)
	if err != nil {
		return Card{}, false, err
	}
	if pair == nil {
		return Card{}, false, nil
	}
	var card Card
	if err := json.Unmarshal(pair.Value, &card); err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

func (s *ConsulCardStore) List(ctx context.Context) ([]Card, error) {
	pairs, _, err := s.kv.List(cardKeyPrefix, nil)
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(pairs))
	for _, pair := range pairs {
		var card Card
		if err := json.Unmarshal(pair.Value, &card); err != nil {
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// ZKCardStore backs CardStore with ZooKeeper znodes, one per card.
type ZKCardStore struct{ conn *zk.Conn }

func NewZKCardStore(conn *zk.Conn) *ZKCardStore { return &ZKCardStore{conn: conn} }

func (s *ZKCardStore) ensureRoot() error {
	exists, _, err := s.conn.Exists("/" + cardKeyPrefix[:len(cardKeyPrefix)-1])
	if err != nil {
		return err
	}
	if !exists {
		_, err = s.conn.Create("/"+cardKeyPrefix[:len(cardKeyPrefix)-1], nil, 0, zk.WorldACL(zk.PermAll))
		return err
	}
	return nil
}

func (s *ZKCardStore) Put(ctx context.Context, name string, card Card) error {
	if err := s.ensureRoot(); err != nil {
		return err
	}
	b, err := json.Marshal(card)
	if err != nil {
		return err
	}
	path := "/" + cardKeyPrefix + name
	exists, stat, err := s.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.conn.Set(path, b, stat.Version)
		return err
	}
	_, err = s.conn.Create(path, b, 0, zk.WorldACL(zk.PermAll))
	return err
}

func (s *ZKCardStore) Get(ctx context.Context, name string) (Card, bool, error) {
	path := "/" + cardKeyPrefix + name
	data, _, err := s.conn.Get(path)
	if err == zk.ErrNoNode {
		return Card{}, false, nil
	}
	if err != nil {
		return Card{}, false, err
	}
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

func (s *ZKCardStore) List(ctx context.Context) ([]Card, error) {
	root := "/" + cardKeyPrefix[:len(cardKeyPrefix)-1]
	children, _, err := s.conn.Children(root)
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, nil
		}
		return nil, err
	}
	cards := make([]Card, 0, len(children))
	for _, name := range children {
		card, ok, err := s.Get(context.Background(), name)
		if err != nil {
			return nil, fmt.Errorf("zk get %s: %w", name, err)
		}
		if ok {
			cards = append(cards, card)
		}
	}
	return cards, nil
}
